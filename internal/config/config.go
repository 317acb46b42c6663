package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "INCIDENTLINE"

const (
	RevokeAny         = "any"
	RevokeExpiredOnly = "expired_only"
)

// Config models incidentline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" mapstructure:"addr"`
		BasePath string `yaml:"base_path" mapstructure:"base_path"`
	} `yaml:"server" mapstructure:"server"`
	Database struct {
		Driver string `yaml:"driver" mapstructure:"driver"`
		DSN    string `yaml:"dsn" mapstructure:"dsn"`
	} `yaml:"database" mapstructure:"database"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
	} `yaml:"auth" mapstructure:"auth"`
	Share struct {
		BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
		RevokePolicy  string        `yaml:"revoke_policy" mapstructure:"revoke_policy"`
		SweepSchedule string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule"`
		PurgeAfter    time.Duration `yaml:"purge_after" mapstructure:"purge_after"`
	} `yaml:"share" mapstructure:"share"`
	Log      LogConfig       `yaml:"log" mapstructure:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" mapstructure:"webhooks"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" mapstructure:"url"`
	Secret         string   `yaml:"secret" mapstructure:"secret"`
	Events         []string `yaml:"events" mapstructure:"events"`
	Enabled        *bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load layers defaults, the optional YAML file at path and INCIDENTLINE_*
// environment variables, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config %s not found; write one with inl config init", path)
			}
			return nil, err
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("share.base_url", d.Share.BaseURL)
	v.SetDefault("share.revoke_policy", d.Share.RevokePolicy)
	v.SetDefault("share.sweep_schedule", d.Share.SweepSchedule)
	v.SetDefault("share.purge_after", d.Share.PurgeAfter)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config.database.dsn is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config.auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config.auth.token_ttl must be positive")
	}
	if _, err := url.ParseRequestURI(c.Share.BaseURL); err != nil {
		return fmt.Errorf("config.share.base_url is invalid: %w", err)
	}
	switch c.Share.RevokePolicy {
	case RevokeAny, RevokeExpiredOnly:
	default:
		return fmt.Errorf("config.share.revoke_policy must be %s or %s", RevokeAny, RevokeExpiredOnly)
	}
	if c.Share.PurgeAfter < 0 {
		return errors.New("config.share.purge_after must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not supported", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if _, err := url.ParseRequestURI(hook.URL); err != nil {
			return fmt.Errorf("webhook %d url is invalid: %w", i, err)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// DefaultJWTSecret is the placeholder secret written by the default config.
const DefaultJWTSecret = "change-me"

// Warnings lists settings that validate but are unsafe outside local
// development.
func (c *Config) Warnings() []string {
	var out []string
	if strings.TrimSpace(c.Auth.JWTSecret) == DefaultJWTSecret {
		out = append(out, "config.auth.jwt_secret is the default placeholder; tokens can be forged by anyone who has read the default config")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.Secret) == DefaultJWTSecret {
			out = append(out, fmt.Sprintf("webhook %d secret is the default placeholder", i))
		}
	}
	return out
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

database:
  driver: sqlite
  dsn: incidentline.db

auth:
  # Override with INCIDENTLINE_AUTH_JWT_SECRET outside local development.
  jwt_secret: change-me
  token_ttl: 24h

share:
  base_url: http://localhost:3000
  # any: admins may revoke active links; expired_only: only lapsed links.
  revoke_policy: any
  # Cron spec for purging expired links; empty disables the sweeper.
  sweep_schedule: "@every 1h"
  # Lapsed links keep resolving as gone for this long before the sweeper
  # deletes them; after that they are unknown.
  purge_after: 720h

log:
  level: info
  format: text

# Audit events are POSTed to each hook. With a secret, deliveries carry
# X-Incidentline-Signature: sha256=HMAC(secret, "<timestamp>.<body>").
# events accepts exact types, "prefix.*" or "*"; empty means all.
#   - url: https://hooks.example.com/incidentline
#     secret: change-me
#     events: [review.*, share.created]
#     timeout_seconds: 5
webhooks: []
`
