package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incidentline/internal/config"
	"incidentline/internal/db"
	"incidentline/internal/domain"
	"incidentline/internal/engine"
	"incidentline/internal/engine/auth"
	"incidentline/internal/identity"
	"incidentline/internal/metrics"
	"incidentline/internal/migrate"
	"incidentline/internal/repo"
)

const testPassword = "password123"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Clock    *clock
	Reporter domain.Actor
	Other    domain.Actor
	Reviewer domain.Actor
	Admin    domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	return newTestEnvWith(t, func(*config.Config) {})
}

func newTestEnvWith(t *testing.T, mutate func(*config.Config)) testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "incidentline.db")
	mutate(cfg)
	conn, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn, cfg.Database.Driver))

	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, cfg)
	eng.Now = clk.Now
	eng.Metrics = metrics.New()

	env := testEnv{Engine: eng, Ctx: ctx, Clock: clk}
	env.Reporter = env.user(t, "reporter@example.com", domain.RoleReporter)
	env.Other = env.user(t, "other@example.com", domain.RoleReporter)
	env.Reviewer = env.user(t, "reviewer@example.com", domain.RoleReviewer)
	env.Admin = env.user(t, "admin@example.com", domain.RoleAdmin)
	return env
}

func (env testEnv) user(t *testing.T, email string, role domain.Role) domain.Actor {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Email: email, Password: testPassword, Role: role})
	require.NoError(t, err)
	return domain.Actor{ID: u.ID, Email: u.Email, Role: u.Role}
}

func (env testEnv) incident(t *testing.T, actor domain.Actor, title string, tags ...string) domain.Incident {
	t.Helper()
	inc, err := env.Engine.CreateIncident(env.Ctx, actor, engine.IncidentCreateOptions{
		Title:    title,
		Severity: domain.SeverityP2,
		Tags:     tags,
	})
	require.NoError(t, err)
	return inc
}

func (env testEnv) review(t *testing.T, id string, to domain.Status) domain.Incident {
	t.Helper()
	res, err := env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{IncidentID: id, Status: to})
	require.NoError(t, err)
	return res.Incident
}

func isForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}

func TestCreateIncidentStartsOpen(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "  Checkout down  ", "payments", " api ", "payments", "")
	assert.Equal(t, "Checkout down", inc.Title)
	assert.Equal(t, domain.StatusOpen, inc.Status)
	assert.Equal(t, []string{"payments", "api"}, inc.Tags)
	assert.Equal(t, env.Reporter.ID, inc.CreatedBy)
	assert.Equal(t, env.Reporter.Email, inc.Creator.Email)
	assert.Equal(t, env.Clock.Now(), inc.CreatedAt)

	_, err := env.Engine.CreateIncident(env.Ctx, env.Reporter, engine.IncidentCreateOptions{Severity: domain.SeverityP1})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateIncident(env.Ctx, env.Reporter, engine.IncidentCreateOptions{Title: "x", Severity: "P9"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestTransitionTable(t *testing.T) {
	statuses := []domain.Status{domain.StatusOpen, domain.StatusInReview, domain.StatusApproved, domain.StatusRejected}
	allowed := map[[2]domain.Status]bool{
		{domain.StatusOpen, domain.StatusInReview}:     true,
		{domain.StatusInReview, domain.StatusApproved}: true,
		{domain.StatusInReview, domain.StatusRejected}: true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]domain.Status{from, to}], engine.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestReviewWorkflow(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Latency spike")

	_, err := env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{IncidentID: inc.ID, Status: domain.StatusApproved})
	var te engine.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StatusOpen, te.From)
	assert.Equal(t, domain.StatusApproved, te.To)

	env.Clock.Advance(time.Minute)
	res, err := env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{
		IncidentID: inc.ID,
		Status:     domain.StatusInReview,
		Comment:    "  looking  ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInReview, res.Incident.Status)
	require.NotNil(t, res.Review.Comment)
	assert.Equal(t, "looking", *res.Review.Comment)
	assert.Equal(t, env.Clock.Now(), res.Review.ReviewedAt)

	env.Clock.Advance(time.Minute)
	res, err = env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{IncidentID: inc.ID, Status: domain.StatusRejected, Comment: "   "})
	require.NoError(t, err)
	assert.Nil(t, res.Review.Comment)

	_, err = env.Engine.SubmitReview(env.Ctx, env.Admin, engine.ReviewOptions{IncidentID: inc.ID, Status: domain.StatusInReview})
	assert.ErrorAs(t, err, &te)

	d, err := env.Engine.GetIncident(env.Ctx, env.Reporter, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, d.Status)
	require.Len(t, d.Reviews, 2)
	assert.Equal(t, domain.StatusRejected, d.Reviews[0].Status)
	assert.Equal(t, domain.StatusInReview, d.Reviews[1].Status)
	assert.Equal(t, env.Reviewer.Email, d.Reviews[0].Reviewer.Email)
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Disk full")

	_, err := env.Engine.SubmitReview(env.Ctx, env.Reporter, engine.ReviewOptions{IncidentID: inc.ID, Status: domain.StatusInReview})
	assert.True(t, isForbidden(err), "reporter review: %v", err)

	_, err = env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{IncidentID: inc.ID})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{IncidentID: inc.ID, Status: "CLOSED"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.SubmitReview(env.Ctx, env.Reporter, engine.ReviewOptions{IncidentID: "missing", Status: domain.StatusInReview})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestConcurrentReviewsApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Race")
	env.review(t, inc.ID, domain.StatusInReview)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := domain.StatusApproved
			if i%2 == 1 {
				to = domain.StatusRejected
			}
			_, errs[i] = env.Engine.SubmitReview(env.Ctx, env.Reviewer, engine.ReviewOptions{IncidentID: inc.ID, Status: to})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var te engine.InvalidTransitionError
		assert.ErrorAs(t, err, &te)
	}
	assert.Equal(t, 1, succeeded)

	d, err := env.Engine.GetIncident(env.Ctx, env.Admin, inc.ID)
	require.NoError(t, err)
	assert.True(t, d.Status.Terminal())
	assert.Len(t, d.Reviews, 2)
}

func TestReporterVisibility(t *testing.T) {
	env := newTestEnv(t)
	mine := env.incident(t, env.Reporter, "Mine")
	theirs := env.incident(t, env.Other, "Theirs")

	_, err := env.Engine.GetIncident(env.Ctx, env.Reporter, mine.ID)
	require.NoError(t, err)
	_, err = env.Engine.GetIncident(env.Ctx, env.Reporter, theirs.ID)
	assert.True(t, isForbidden(err))
	_, err = env.Engine.GetIncident(env.Ctx, env.Reporter, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	page, err := env.Engine.ListIncidents(env.Ctx, env.Reporter, engine.IncidentListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	page, err = env.Engine.ListIncidents(env.Ctx, env.Reviewer, engine.IncidentListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestEditRules(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Edit me")

	title := "Edited"
	sev := domain.SeverityP1
	tags := []string{"db"}
	env.Clock.Advance(time.Minute)
	updated, err := env.Engine.EditIncident(env.Ctx, env.Reporter, engine.IncidentUpdateOptions{ID: inc.ID, Title: &title, Severity: &sev, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "Edited", updated.Title)
	assert.Equal(t, domain.SeverityP1, updated.Severity)
	assert.Equal(t, []string{"db"}, updated.Tags)
	assert.Equal(t, domain.StatusOpen, updated.Status)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	_, err = env.Engine.EditIncident(env.Ctx, env.Other, engine.IncidentUpdateOptions{ID: inc.ID, Title: &title})
	assert.True(t, isForbidden(err))

	empty := " "
	_, err = env.Engine.EditIncident(env.Ctx, env.Reporter, engine.IncidentUpdateOptions{ID: inc.ID, Title: &empty})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	env.review(t, inc.ID, domain.StatusInReview)
	_, err = env.Engine.EditIncident(env.Ctx, env.Reporter, engine.IncidentUpdateOptions{ID: inc.ID, Title: &title})
	assert.True(t, isForbidden(err), "reporter edit after open: %v", err)
	_, err = env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, inc.ID, "late note")
	assert.True(t, isForbidden(err))

	_, err = env.Engine.EditIncident(env.Ctx, env.Reviewer, engine.IncidentUpdateOptions{ID: inc.ID, Title: &title})
	assert.NoError(t, err)
	_, err = env.Engine.AddTimelineEvent(env.Ctx, env.Reviewer, inc.ID, "reviewer note")
	assert.NoError(t, err)
}

func TestTimelineOrdering(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Timeline")
	for _, c := range []string{"first", "second", "third"} {
		env.Clock.Advance(time.Second)
		_, err := env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, inc.ID, c)
		require.NoError(t, err)
	}
	_, err := env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, inc.ID, "  ")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	d, err := env.Engine.GetIncident(env.Ctx, env.Reporter, inc.ID)
	require.NoError(t, err)
	require.Len(t, d.Timeline, 3)
	assert.Equal(t, "first", d.Timeline[0].Content)
	assert.Equal(t, "third", d.Timeline[2].Content)
	assert.Equal(t, 3, d.TimelineCount)
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Doomed", "tmp")
	_, err := env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, inc.ID, "note")
	require.NoError(t, err)
	env.review(t, inc.ID, domain.StatusInReview)
	link, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)

	err = env.Engine.DeleteIncident(env.Ctx, env.Reviewer, inc.ID)
	assert.True(t, isForbidden(err))
	err = env.Engine.DeleteIncident(env.Ctx, env.Reporter, inc.ID)
	assert.True(t, isForbidden(err))

	require.NoError(t, env.Engine.DeleteIncident(env.Ctx, env.Admin, inc.ID))
	_, err = env.Engine.GetIncident(env.Ctx, env.Admin, inc.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.ResolveShareLink(env.Ctx, link.Token)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	var orphans int
	for _, table := range []string{"timeline_events", "reviews", "share_links", "incident_tags"} {
		var n int
		require.NoError(t, env.Engine.DB.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE incident_id = ?", inc.ID).Scan(&n))
		orphans += n
	}
	assert.Zero(t, orphans)
	assert.ErrorIs(t, env.Engine.DeleteIncident(env.Ctx, env.Admin, inc.ID), repo.ErrNotFound)
}

func TestShareLinkLifecycle(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Shared")
	_, err := env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, inc.ID, "visible")
	require.NoError(t, err)

	_, err = env.Engine.CreateShareLink(env.Ctx, env.Reporter, inc.ID, env.Clock.Now().Add(time.Hour))
	assert.True(t, isForbidden(err))
	_, err = env.Engine.CreateShareLink(env.Ctx, env.Reviewer, inc.ID, env.Clock.Now().Add(time.Hour))
	assert.True(t, isForbidden(err))
	_, err = env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now())
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateShareLink(env.Ctx, env.Admin, "missing", env.Clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, repo.ErrNotFound)

	link, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, link.Token, 64)
	assert.Equal(t, "http://localhost:3000/share/"+link.Token, link.URL)

	shared, err := env.Engine.ResolveShareLink(env.Ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, shared.Detail.ID)
	require.Len(t, shared.Detail.Timeline, 1)

	env.Clock.Advance(time.Hour)
	_, err = env.Engine.ResolveShareLink(env.Ctx, link.Token)
	assert.NoError(t, err, "link is valid at its expiry instant")

	env.Clock.Advance(time.Nanosecond)
	_, err = env.Engine.ResolveShareLink(env.Ctx, link.Token)
	assert.ErrorIs(t, err, engine.ErrGone)

	_, err = env.Engine.ResolveShareLink(env.Ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.ResolveShareLink(env.Ctx, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRevokeShareLink(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Revoke")
	other := env.incident(t, env.Reporter, "Other")
	link, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, isForbidden(env.Engine.RevokeShareLink(env.Ctx, env.Reviewer, inc.ID, link.Token)))
	assert.ErrorIs(t, env.Engine.RevokeShareLink(env.Ctx, env.Admin, other.ID, link.Token), repo.ErrNotFound)
	require.NoError(t, env.Engine.RevokeShareLink(env.Ctx, env.Admin, inc.ID, link.Token))

	_, err = env.Engine.ResolveShareLink(env.Ctx, link.Token)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.RevokeShareLinkByToken(env.Ctx, env.Admin, link.Token), repo.ErrNotFound)
}

func TestRevokeExpiredOnlyPolicy(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) { c.Share.RevokePolicy = config.RevokeExpiredOnly })
	inc := env.incident(t, env.Reporter, "Policy")
	link, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.ErrorIs(t, env.Engine.RevokeShareLinkByToken(env.Ctx, env.Admin, link.Token), engine.ErrInvalidInput)
	env.Clock.Advance(2 * time.Hour)
	assert.NoError(t, env.Engine.RevokeShareLinkByToken(env.Ctx, env.Admin, link.Token))
}

func TestRevokeExpiredLinkUnderAnyPolicy(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, config.RevokeAny, env.Engine.Config.Share.RevokePolicy)
	inc := env.incident(t, env.Reporter, "Lapsed")
	link, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)

	env.Clock.Advance(2 * time.Hour)
	_, err = env.Engine.ResolveShareLink(env.Ctx, link.Token)
	require.ErrorIs(t, err, engine.ErrGone)

	require.NoError(t, env.Engine.RevokeShareLink(env.Ctx, env.Admin, inc.ID, link.Token))
	_, err = env.Engine.ResolveShareLink(env.Ctx, link.Token)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPurgeKeepsLapsedLinksInsideWindow(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, 30*24*time.Hour, env.Engine.Config.Share.PurgeAfter)
	inc := env.incident(t, env.Reporter, "Purge")
	short, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Minute))
	require.NoError(t, err)
	long, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := env.Engine.PurgeExpiredShareLinks(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.Clock.Advance(2 * time.Minute)
	n, err = env.Engine.PurgeExpiredShareLinks(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = env.Engine.ResolveShareLink(env.Ctx, short.Token)
	assert.ErrorIs(t, err, engine.ErrGone)

	env.Clock.Advance(30 * 24 * time.Hour)
	n, err = env.Engine.PurgeExpiredShareLinks(env.Ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = env.Engine.ResolveShareLink(env.Ctx, short.Token)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.ResolveShareLink(env.Ctx, long.Token)
	assert.ErrorIs(t, err, engine.ErrGone)
}

func TestPurgeWithoutWindow(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) { c.Share.PurgeAfter = 0 })
	inc := env.incident(t, env.Reporter, "Purge now")
	short, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Minute))
	require.NoError(t, err)
	long, err := env.Engine.CreateShareLink(env.Ctx, env.Admin, inc.ID, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)

	env.Clock.Advance(2 * time.Minute)
	n, err := env.Engine.PurgeExpiredShareLinks(env.Ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = env.Engine.ResolveShareLink(env.Ctx, short.Token)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.ResolveShareLink(env.Ctx, long.Token)
	assert.NoError(t, err)
}

func TestListFiltersAndPagination(t *testing.T) {
	env := newTestEnv(t)
	a := env.incident(t, env.Reporter, "Database failover", "db", "prod")
	env.Clock.Advance(24 * time.Hour)
	b := env.incident(t, env.Reporter, "API errors", "api")
	_, err := env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, b.ID, "Traced to the 100% CPU node")
	require.NoError(t, err)
	env.Clock.Advance(24 * time.Hour)
	c := env.incident(t, env.Other, "Cache miss storm", "prod")
	env.review(t, c.ID, domain.StatusInReview)

	list := func(opts engine.IncidentListOptions) []string {
		t.Helper()
		page, err := env.Engine.ListIncidents(env.Ctx, env.Admin, opts)
		require.NoError(t, err)
		ids := make([]string, 0, len(page.Items))
		for _, inc := range page.Items {
			ids = append(ids, inc.ID)
		}
		return ids
	}

	assert.Equal(t, []string{c.ID, b.ID, a.ID}, list(engine.IncidentListOptions{}))
	assert.Equal(t, []string{a.ID}, list(engine.IncidentListOptions{Search: "DATABASE"}))
	assert.Equal(t, []string{b.ID}, list(engine.IncidentListOptions{Search: "api"}))
	assert.Equal(t, []string{b.ID}, list(engine.IncidentListOptions{Search: "100%"}))
	assert.Equal(t, []string{c.ID, a.ID}, list(engine.IncidentListOptions{Tags: []string{"prod"}}))
	assert.Equal(t, []string{c.ID}, list(engine.IncidentListOptions{Status: domain.StatusInReview}))
	assert.Empty(t, list(engine.IncidentListOptions{Severity: domain.SeverityP4}))

	from := a.CreatedAt.Add(time.Hour)
	to := c.CreatedAt.Add(-time.Hour)
	assert.Equal(t, []string{b.ID}, list(engine.IncidentListOptions{From: &from, To: &to}))

	page, err := env.Engine.ListIncidents(env.Ctx, env.Admin, engine.IncidentListOptions{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)

	page, err = env.Engine.ListIncidents(env.Ctx, env.Admin, engine.IncidentListOptions{Page: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, engine.DefaultPageLimit, page.Limit)

	for _, opts := range []engine.IncidentListOptions{
		{Page: -1},
		{Limit: -1},
		{Limit: engine.MaxPageLimit + 1},
		{Status: "DONE"},
		{From: &to, To: &from},
	} {
		_, err := env.Engine.ListIncidents(env.Ctx, env.Admin, opts)
		assert.ErrorIs(t, err, engine.ErrInvalidInput, "%+v", opts)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Login(env.Ctx, "Reviewer@Example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, env.Reviewer.ID, res.User.ID)
	assert.Equal(t, env.Clock.Now().Add(24*time.Hour), res.ExpiresAt)

	actor, err := env.Engine.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, env.Reviewer, actor)

	_, err = env.Engine.Login(env.Ctx, "reviewer@example.com", "wrong-password")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = env.Engine.Login(env.Ctx, "nobody@example.com", testPassword)
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = env.Engine.Login(env.Ctx, "", "")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)
	for _, opts := range []engine.UserCreateOptions{
		{Email: "not-an-email", Password: testPassword, Role: domain.RoleReporter},
		{Email: "short@example.com", Password: "short", Role: domain.RoleReporter},
		{Email: "role@example.com", Password: testPassword, Role: "OWNER"},
		{Email: "REPORTER@example.com", Password: testPassword, Role: domain.RoleReporter},
	} {
		_, err := env.Engine.CreateUser(env.Ctx, opts)
		assert.ErrorIs(t, err, engine.ErrInvalidInput, opts.Email)
	}
}

func TestMeAndStats(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Counted")
	_, err := env.Engine.AddTimelineEvent(env.Ctx, env.Reporter, inc.ID, "note")
	require.NoError(t, err)
	env.incident(t, env.Other, "Not mine")

	p, err := env.Engine.Me(env.Ctx, env.Reporter)
	require.NoError(t, err)
	assert.Equal(t, env.Reporter.Email, p.User.Email)
	assert.Equal(t, 1, p.IncidentCount)
	assert.Equal(t, 1, p.TimelineCount)
	assert.Zero(t, p.ReviewCount)
	require.Len(t, p.RecentIncidents, 1)

	stats, err := env.Engine.Stats(env.Ctx, env.Reporter)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalUsers: 4, MyIncidents: 1}, stats)

	_, err = env.Engine.Stats(env.Ctx, domain.Actor{})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = env.Engine.Me(env.Ctx, domain.Actor{})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestEventsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Audited")
	env.review(t, inc.ID, domain.StatusInReview)

	_, err := env.Engine.ListEvents(env.Ctx, env.Reviewer, 10, "", "")
	assert.True(t, isForbidden(err))

	evts, err := env.Engine.ListEvents(env.Ctx, env.Admin, 10, "", inc.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "review.submitted", evts[0].Type)
	assert.Equal(t, "incident.created", evts[1].Type)
	assert.Contains(t, evts[0].Payload, "IN_REVIEW")
}

func TestExportPostmortem(t *testing.T) {
	env := newTestEnv(t)
	inc := env.incident(t, env.Reporter, "Exported")
	out, name, err := env.Engine.ExportPostmortem(env.Ctx, env.Reporter, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "postmortem-"+inc.ID+".md", name)
	assert.Contains(t, string(out), "# Postmortem: Exported")

	_, _, err = env.Engine.ExportPostmortem(env.Ctx, env.Other, inc.ID)
	assert.True(t, isForbidden(err))
}
