package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, RevokeAny, cfg.Share.RevokePolicy)
	assert.Equal(t, "http://localhost:3000", cfg.Share.BaseURL)
	assert.Equal(t, 30*24*time.Hour, cfg.Share.PurgeAfter)
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("share:\n  revoke_policy: expired_only\n"))
	require.NoError(t, err)
	assert.Equal(t, RevokeExpiredOnly, cfg.Share.RevokePolicy)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":        func(c *Config) { c.Database.Driver = "mysql" },
		"dsn":           func(c *Config) { c.Database.DSN = " " },
		"secret":        func(c *Config) { c.Auth.JWTSecret = "" },
		"ttl":           func(c *Config) { c.Auth.TokenTTL = 0 },
		"revoke policy": func(c *Config) { c.Share.RevokePolicy = "never" },
		"base url":      func(c *Config) { c.Share.BaseURL = "not a url" },
		"log level":     func(c *Config) { c.Log.Level = "trace" },
		"log format":    func(c *Config) { c.Log.Format = "xml" },
		"webhook url":   func(c *Config) { c.Webhooks = []WebhookConfig{{URL: ""}} },
		"purge after":   func(c *Config) { c.Share.PurgeAfter = -time.Hour },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWarningsFlagPlaceholderSecret(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	warnings := cfg.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "jwt_secret")

	cfg.Auth.JWTSecret = "a-real-secret"
	assert.Empty(t, cfg.Warnings())

	cfg.Webhooks = []WebhookConfig{{URL: "http://hooks.local", Secret: DefaultJWTSecret}}
	assert.Len(t, cfg.Warnings(), 1)
}

func TestFromYAMLPurgeAfter(t *testing.T) {
	cfg, err := FromYAML([]byte("share:\n  purge_after: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Share.PurgeAfter)
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidentline.yml")
	data := []byte(`database:
  driver: sqlite
  dsn: /tmp/x.db
auth:
  jwt_secret: from-file
  token_ttl: 2h
webhooks:
  - url: http://hooks.local/incidents
    events: [review.submitted]
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("INCIDENTLINE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("INCIDENTLINE_SHARE_REVOKE_POLICY", "expired_only")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, RevokeExpiredOnly, cfg.Share.RevokePolicy)
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"review.submitted"}, cfg.Webhooks[0].Events)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
