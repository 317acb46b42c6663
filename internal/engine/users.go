package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"incidentline/internal/domain"
	"incidentline/internal/engine/auth"
	"incidentline/internal/events"
	"incidentline/internal/identity"
	"incidentline/internal/postmortem"
	"incidentline/internal/repo"
)

const (
	minPasswordLength = 8
	recentIncidents   = 20
	systemActor       = "system"
)

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      domain.User `json:"user"`
}

// Login exchanges email and password for a bearer token. Unknown emails and
// wrong passwords fail the same way.
func (e Engine) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return LoginResult{}, invalidInput("email and password are required")
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return LoginResult{}, fmt.Errorf("%w: invalid credentials", identity.ErrUnauthenticated)
		}
		return LoginResult{}, storeErr("get user", err)
	}
	if !identity.CheckPassword(u.PasswordHash, password) {
		return LoginResult{}, fmt.Errorf("%w: invalid credentials", identity.ErrUnauthenticated)
	}
	token, expires, err := e.tokens().Sign(u)
	if err != nil {
		return LoginResult{}, &internalError{op: "sign token", err: err}
	}
	return LoginResult{Token: token, ExpiresAt: expires, User: u}, nil
}

// Authenticate resolves a bearer token to its actor.
func (e Engine) Authenticate(token string) (domain.Actor, error) {
	return e.tokens().Verify(token)
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	Email    string
	Password string
	Role     domain.Role
	ActorID  string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, invalidInput("invalid email %q", opts.Email)
	}
	if len(opts.Password) < minPasswordLength {
		return domain.User{}, invalidInput("password must be at least %d characters", minPasswordLength)
	}
	if !opts.Role.Valid() {
		return domain.User{}, invalidInput("unknown role %q", opts.Role)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, invalidInput("email %s already registered", email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, storeErr("get user", err)
	}
	hash, err := identity.HashPassword(opts.Password)
	if err != nil {
		return domain.User{}, &internalError{op: "create user", err: err}
	}
	now := e.now()
	u := domain.User{
		ID:           newID(),
		Email:        email,
		PasswordHash: hash,
		Role:         opts.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	actorID := opts.ActorID
	if actorID == "" {
		actorID = systemActor
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, storeErr("begin create user", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, storeErr("insert user", err)
	}
	if err := e.events().Append(ctx, tx, events.UserCreated, "user", u.ID, actorID, events.EventPayload{
		"email": u.Email,
		"role":  u.Role,
	}); err != nil {
		return domain.User{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, storeErr("commit create user", err)
	}
	return u, nil
}

func (e Engine) Me(ctx context.Context, actor domain.Actor) (domain.Profile, error) {
	if actor.ID == "" {
		return domain.Profile{}, identity.ErrUnauthenticated
	}
	u, err := e.Repo.GetUser(ctx, actor.ID)
	if err != nil {
		return domain.Profile{}, storeErr("get user", err)
	}
	p := domain.Profile{User: u}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p.IncidentCount, err = e.Repo.CountIncidents(gctx, repo.IncidentFilters{CreatedBy: u.ID})
		return err
	})
	g.Go(func() error {
		var err error
		p.TimelineCount, err = e.Repo.CountTimelineBy(gctx, u.ID)
		return err
	})
	g.Go(func() error {
		var err error
		p.ReviewCount, err = e.Repo.CountReviewsBy(gctx, u.ID)
		return err
	})
	g.Go(func() error {
		var err error
		p.RecentIncidents, err = e.Repo.ListIncidents(gctx, repo.IncidentFilters{CreatedBy: u.ID, Limit: recentIncidents})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Profile{}, storeErr("load profile", err)
	}
	return p, nil
}

// Stats requires an authenticated actor.
func (e Engine) Stats(ctx context.Context, actor domain.Actor) (domain.Stats, error) {
	if actor.ID == "" {
		return domain.Stats{}, identity.ErrUnauthenticated
	}
	users, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.Stats{}, storeErr("count users", err)
	}
	mine, err := e.Repo.CountIncidents(ctx, repo.IncidentFilters{CreatedBy: actor.ID})
	if err != nil {
		return domain.Stats{}, storeErr("count incidents", err)
	}
	return domain.Stats{TotalUsers: users, MyIncidents: mine}, nil
}

func (e Engine) ListEvents(ctx context.Context, actor domain.Actor, limit int, evtType, entityID string) ([]domain.Event, error) {
	if err := e.authorize(actor, auth.ActionListEvents, auth.Resource{}); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	items, err := e.Repo.LatestEvents(ctx, limit, evtType, entityID)
	return items, storeErr("list events", err)
}

// ExportPostmortem renders the incident the actor is allowed to view.
func (e Engine) ExportPostmortem(ctx context.Context, actor domain.Actor, id string) ([]byte, string, error) {
	d, err := e.GetIncident(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}
	return postmortem.Render(d, e.now()), postmortem.Filename(d), nil
}
