package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"incidentline/internal/domain"
	"incidentline/internal/engine"
	"incidentline/internal/repo"
)

// Fixtures describe users and incidents loaded by `inl seed`.
type Fixtures struct {
	Users     []UserFixture     `yaml:"users"`
	Incidents []IncidentFixture `yaml:"incidents"`
}

type UserFixture struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type IncidentFixture struct {
	Title    string          `yaml:"title"`
	Severity string          `yaml:"severity"`
	Tags     []string        `yaml:"tags"`
	Reporter string          `yaml:"reporter"`
	Timeline []string        `yaml:"timeline"`
	Reviews  []ReviewFixture `yaml:"reviews"`
}

// ReviewFixture is one workflow step; reviews apply in order.
type ReviewFixture struct {
	Status   string `yaml:"status"`
	Reviewer string `yaml:"reviewer"`
	Comment  string `yaml:"comment"`
}

// SeedResult counts what Seed actually created.
type SeedResult struct {
	Users     int `json:"users"`
	Incidents int `json:"incidents"`
}

const defaultFixtures = `users:
  - email: admin@example.com
    password: password123
    role: ADMIN
  - email: reviewer@example.com
    password: password123
    role: REVIEWER
  - email: reporter@example.com
    password: password123
    role: REPORTER

incidents:
  - title: Checkout latency above SLO
    severity: P2
    tags: [payments, latency]
    reporter: reporter@example.com
    timeline:
      - p99 latency alert fired for checkout-api
      - Rolled back release 2024.06.1
  - title: Login outage in eu-west
    severity: P1
    tags: [auth]
    reporter: reporter@example.com
    timeline:
      - Session store unreachable from eu-west
      - Failover to secondary cluster completed
    reviews:
      - status: IN_REVIEW
        reviewer: reviewer@example.com
        comment: Picking this up
      - status: APPROVED
        reviewer: reviewer@example.com
        comment: Root cause and follow-ups documented
`

// DefaultFixtures returns the built-in demo data.
func DefaultFixtures() Fixtures {
	f, err := ParseFixtures([]byte(defaultFixtures))
	if err != nil {
		panic(err)
	}
	return f
}

func ParseFixtures(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("invalid fixtures yaml: %w", err)
	}
	return f, nil
}

// LoadFixtures reads fixtures from path; an empty path yields the defaults.
func LoadFixtures(path string) (Fixtures, error) {
	if path == "" {
		return DefaultFixtures(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, err
	}
	return ParseFixtures(data)
}

// Seed creates the fixture users and incidents. Users that already exist by
// email are kept as is, and an incident is skipped when its reporter already
// has one with the same title, so seeding twice is harmless.
func Seed(ctx context.Context, e engine.Engine, f Fixtures, logger *slog.Logger) (SeedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res SeedResult
	for _, u := range f.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		if _, err := e.CreateUser(ctx, engine.UserCreateOptions{
			Email:    email,
			Password: u.Password,
			Role:     domain.Role(strings.ToUpper(u.Role)),
		}); err != nil {
			return res, fmt.Errorf("seed user %s: %w", email, err)
		}
		res.Users++
	}
	for _, inc := range f.Incidents {
		created, err := seedIncident(ctx, e, inc)
		if err != nil {
			return res, fmt.Errorf("seed incident %q: %w", inc.Title, err)
		}
		if created {
			res.Incidents++
		}
	}
	logger.Info("seed complete", "users", res.Users, "incidents", res.Incidents)
	return res, nil
}

func seedIncident(ctx context.Context, e engine.Engine, f IncidentFixture) (bool, error) {
	reporter, err := actorByEmail(ctx, e, f.Reporter)
	if err != nil {
		return false, err
	}
	existing, err := e.Repo.ListIncidents(ctx, repo.IncidentFilters{Search: f.Title, CreatedBy: reporter.ID})
	if err != nil {
		return false, err
	}
	for _, inc := range existing {
		if inc.Title == strings.TrimSpace(f.Title) {
			return false, nil
		}
	}
	inc, err := e.CreateIncident(ctx, reporter, engine.IncidentCreateOptions{
		Title:    f.Title,
		Severity: domain.Severity(strings.ToUpper(f.Severity)),
		Tags:     f.Tags,
	})
	if err != nil {
		return false, err
	}
	for _, content := range f.Timeline {
		if _, err := e.AddTimelineEvent(ctx, reporter, inc.ID, content); err != nil {
			return false, err
		}
	}
	for _, rv := range f.Reviews {
		reviewer, err := actorByEmail(ctx, e, rv.Reviewer)
		if err != nil {
			return false, err
		}
		if _, err := e.SubmitReview(ctx, reviewer, engine.ReviewOptions{
			IncidentID: inc.ID,
			Status:     domain.Status(strings.ToUpper(rv.Status)),
			Comment:    rv.Comment,
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func actorByEmail(ctx context.Context, e engine.Engine, email string) (domain.Actor, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, fmt.Errorf("unknown user %q", email)
		}
		return domain.Actor{}, err
	}
	return domain.Actor{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}
