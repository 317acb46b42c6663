package engine

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"incidentline/internal/config"
	"incidentline/internal/domain"
	"incidentline/internal/engine/auth"
	"incidentline/internal/events"
	"incidentline/internal/identity"
	"incidentline/internal/metrics"
	"incidentline/internal/repo"
)

var tracer = otel.Tracer("incidentline/internal/engine")

const defaultSharePurgeAfter = 30 * 24 * time.Hour

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    *auth.Authorizer
	Tokens  identity.Tokens
	Config  *config.Config
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	driver := cfg.Database.Driver
	return Engine{
		DB:     db,
		Repo:   repo.New(db, driver),
		Events: events.Writer{Driver: driver},
		Auth:   auth.MustNew(),
		Tokens: identity.Tokens{Secret: cfg.Auth.JWTSecret, TTL: cfg.Auth.TokenTTL},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) tokens() identity.Tokens {
	t := e.Tokens
	t.Now = e.now
	return t
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) revokePolicy() string {
	if e.Config == nil || e.Config.Share.RevokePolicy == "" {
		return config.RevokeAny
	}
	return e.Config.Share.RevokePolicy
}

func (e Engine) authorize(actor domain.Actor, action auth.Action, res auth.Resource) error {
	return authErr(e.Auth.Authorize(actor, action, res))
}

func (e Engine) scope(actor domain.Actor) (string, error) {
	s, err := e.Auth.Scope(actor)
	return s, authErr(err)
}

// purgeAfter is how long lapsed share links are kept. Without a config the
// 30-day default applies; an explicit zero purges as soon as links lapse.
func (e Engine) purgeAfter() time.Duration {
	if e.Config == nil {
		return defaultSharePurgeAfter
	}
	return e.Config.Share.PurgeAfter
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// normalizeTags trims tags, drops empty ones and collapses duplicates while
// keeping first-seen order.
func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
