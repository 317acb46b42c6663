package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incidentline/internal/config"
	"incidentline/internal/domain"
	"incidentline/internal/engine"
	"incidentline/internal/repo"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "incidentline.db")
	a, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}).Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}).Warn("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "debug", Format: "text"}).Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")
	assert.Contains(t, buf.String(), "source=")
}

func TestOpenMigratesDatabase(t *testing.T) {
	a := openTestApp(t)
	n, err := a.Engine.Repo.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NotNil(t, a.Engine.Metrics)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	res, err := Seed(ctx, a.Engine, DefaultFixtures(), a.Logger)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Users: 3, Incidents: 2}, res)

	res, err = Seed(ctx, a.Engine, DefaultFixtures(), a.Logger)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{}, res)

	incidents, err := a.Engine.Repo.ListIncidents(ctx, repo.IncidentFilters{})
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	byTitle := map[string]domain.Incident{}
	for _, inc := range incidents {
		byTitle[inc.Title] = inc
	}
	assert.Equal(t, domain.StatusApproved, byTitle["Login outage in eu-west"].Status)
	assert.Equal(t, domain.StatusOpen, byTitle["Checkout latency above SLO"].Status)

	login, err := a.Engine.Login(ctx, "admin@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, login.User.Role)
}

func TestLoadFixturesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yml")
	require.NoError(t, os.WriteFile(path, []byte(`users:
  - email: Ops@Example.com
    password: longenough
    role: reviewer
incidents:
  - title: Disk full on db-1
    severity: p3
    reporter: ops@example.com
    timeline: [Cleared old WAL segments]
`), 0o644))
	f, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Len(t, f.Users, 1)

	a := openTestApp(t)
	ctx := context.Background()
	res, err := Seed(ctx, a.Engine, f, nil)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Users: 1, Incidents: 1}, res)

	u, err := a.Engine.Repo.GetUserByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleReviewer, u.Role)

	actor := domain.Actor{ID: u.ID, Email: u.Email, Role: u.Role}
	page, err := a.Engine.ListIncidents(ctx, actor, engine.IncidentListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, domain.SeverityP3, page.Items[0].Severity)
	assert.Equal(t, 1, page.Items[0].TimelineCount)
}

func TestSeedUnknownReporter(t *testing.T) {
	a := openTestApp(t)
	_, err := Seed(context.Background(), a.Engine, Fixtures{Incidents: []IncidentFixture{{
		Title: "Orphan", Severity: "P4", Reporter: "nobody@example.com",
	}}}, nil)
	require.ErrorContains(t, err, "unknown user")
}

func TestLoadFixturesInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("users: [email"), 0o644))
	_, err := LoadFixtures(path)
	require.ErrorContains(t, err, "invalid fixtures yaml")
}
