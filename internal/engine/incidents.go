package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"incidentline/internal/domain"
	"incidentline/internal/engine/auth"
	"incidentline/internal/events"
	"incidentline/internal/repo"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// IncidentCreateOptions are parameters for reporting an incident.
type IncidentCreateOptions struct {
	Title    string
	Severity domain.Severity
	Tags     []string
}

func (e Engine) CreateIncident(ctx context.Context, actor domain.Actor, opts IncidentCreateOptions) (domain.Incident, error) {
	if err := e.authorize(actor, auth.ActionCreateIncident, auth.Resource{}); err != nil {
		return domain.Incident{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Incident{}, invalidInput("title is required")
	}
	if opts.Severity == "" {
		return domain.Incident{}, invalidInput("severity is required")
	}
	if !opts.Severity.Valid() {
		return domain.Incident{}, invalidInput("unknown severity %q", opts.Severity)
	}
	now := e.now()
	inc := domain.Incident{
		ID:        newID(),
		Title:     title,
		Severity:  opts.Severity,
		Status:    domain.StatusOpen,
		Tags:      normalizeTags(opts.Tags),
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, storeErr("begin create", err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertIncident(ctx, tx, inc); err != nil {
		return domain.Incident{}, storeErr("insert incident", err)
	}
	if err := e.events().Append(ctx, tx, events.IncidentCreated, "incident", inc.ID, actor.ID, events.EventPayload{
		"title":    inc.Title,
		"severity": inc.Severity,
		"tags":     inc.Tags,
	}); err != nil {
		return domain.Incident{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, storeErr("commit create", err)
	}
	created, err := e.Repo.GetIncident(ctx, nil, inc.ID)
	return created, storeErr("get incident", err)
}

// IncidentListOptions filter and paginate incident listings. Page and Limit
// default to 1 and DefaultPageLimit when zero.
type IncidentListOptions struct {
	Search   string
	Severity domain.Severity
	Status   domain.Status
	Tags     []string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

func (e Engine) ListIncidents(ctx context.Context, actor domain.Actor, opts IncidentListOptions) (domain.IncidentPage, error) {
	scope, err := e.scope(actor)
	if err != nil {
		return domain.IncidentPage{}, err
	}
	page, limit := opts.Page, opts.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 1 {
		return domain.IncidentPage{}, invalidInput("page must be at least 1")
	}
	if limit < 1 || limit > MaxPageLimit {
		return domain.IncidentPage{}, invalidInput("limit must be between 1 and %d", MaxPageLimit)
	}
	if opts.Severity != "" && !opts.Severity.Valid() {
		return domain.IncidentPage{}, invalidInput("unknown severity %q", opts.Severity)
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return domain.IncidentPage{}, invalidInput("unknown status %q", opts.Status)
	}
	if opts.From != nil && opts.To != nil && opts.From.After(*opts.To) {
		return domain.IncidentPage{}, invalidInput("dateFrom must not be after dateTo")
	}
	filters := repo.IncidentFilters{
		Search:    opts.Search,
		Severity:  opts.Severity,
		Status:    opts.Status,
		Tags:      normalizeTags(opts.Tags),
		From:      opts.From,
		To:        opts.To,
		CreatedBy: scope,
	}

	var (
		items []domain.Incident
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f := filters
		f.Limit = limit
		f.Offset = (page - 1) * limit
		var err error
		items, err = e.Repo.ListIncidents(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.Repo.CountIncidents(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.IncidentPage{}, storeErr("list incidents", err)
	}
	return domain.IncidentPage{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// GetIncident returns the incident with its timeline and reviews. Absent
// incidents report NotFound before any permission check.
func (e Engine) GetIncident(ctx context.Context, actor domain.Actor, id string) (domain.IncidentDetail, error) {
	inc, err := e.Repo.GetIncident(ctx, nil, id)
	if err != nil {
		return domain.IncidentDetail{}, storeErr("get incident", err)
	}
	if err := e.authorize(actor, auth.ActionViewIncident, auth.ResourceOf(inc)); err != nil {
		return domain.IncidentDetail{}, err
	}
	return e.detail(ctx, nil, inc)
}

func (e Engine) detail(ctx context.Context, tx *sql.Tx, inc domain.Incident) (domain.IncidentDetail, error) {
	timeline, err := e.Repo.ListTimeline(ctx, tx, inc.ID)
	if err != nil {
		return domain.IncidentDetail{}, storeErr("list timeline", err)
	}
	reviews, err := e.Repo.ListReviews(ctx, tx, inc.ID)
	if err != nil {
		return domain.IncidentDetail{}, storeErr("list reviews", err)
	}
	return domain.IncidentDetail{Incident: inc, Timeline: timeline, Reviews: reviews}, nil
}

// IncidentUpdateOptions carries the editable fields; nil leaves a field as is.
// Status and ownership are not editable here.
type IncidentUpdateOptions struct {
	ID       string
	Title    *string
	Severity *domain.Severity
	Tags     *[]string
}

func (e Engine) EditIncident(ctx context.Context, actor domain.Actor, opts IncidentUpdateOptions) (domain.Incident, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, storeErr("begin edit", err)
	}
	defer tx.Rollback()

	inc, err := e.Repo.GetIncident(ctx, tx, opts.ID)
	if err != nil {
		return domain.Incident{}, storeErr("get incident", err)
	}
	if err := e.authorize(actor, auth.ActionEditIncident, auth.ResourceOf(inc)); err != nil {
		return domain.Incident{}, err
	}
	changed := events.EventPayload{}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Incident{}, invalidInput("title must not be empty")
		}
		if title != inc.Title {
			changed["title"] = title
		}
		inc.Title = title
	}
	if opts.Severity != nil {
		if !opts.Severity.Valid() {
			return domain.Incident{}, invalidInput("unknown severity %q", *opts.Severity)
		}
		if *opts.Severity != inc.Severity {
			changed["severity"] = *opts.Severity
		}
		inc.Severity = *opts.Severity
	}
	if opts.Tags != nil {
		inc.Tags = normalizeTags(*opts.Tags)
		changed["tags"] = inc.Tags
	}
	inc.UpdatedAt = e.now()
	if err := e.Repo.UpdateIncidentFields(ctx, tx, inc); err != nil {
		return domain.Incident{}, storeErr("update incident", err)
	}
	if err := e.events().Append(ctx, tx, events.IncidentUpdated, "incident", inc.ID, actor.ID, changed); err != nil {
		return domain.Incident{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, storeErr("commit edit", err)
	}
	updated, err := e.Repo.GetIncident(ctx, nil, inc.ID)
	return updated, storeErr("get incident", err)
}

// DeleteIncident hard-deletes the incident with its timeline, reviews and
// share links in one transaction.
func (e Engine) DeleteIncident(ctx context.Context, actor domain.Actor, id string) (err error) {
	ctx, span := tracer.Start(ctx, "engine.DeleteIncident", trace.WithAttributes(attribute.String("incident.id", id)))
	defer func() { endSpan(span, err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin delete", err)
	}
	defer tx.Rollback()

	inc, err := e.Repo.GetIncident(ctx, tx, id)
	if err != nil {
		return storeErr("get incident", err)
	}
	if err := e.authorize(actor, auth.ActionDeleteIncident, auth.ResourceOf(inc)); err != nil {
		return err
	}
	if err := e.Repo.DeleteIncident(ctx, tx, id); err != nil {
		return storeErr("delete incident", err)
	}
	if err := e.events().Append(ctx, tx, events.IncidentDeleted, "incident", id, actor.ID, events.EventPayload{
		"title":  inc.Title,
		"status": inc.Status,
	}); err != nil {
		return storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit delete", err)
	}
	return nil
}

func (e Engine) AddTimelineEvent(ctx context.Context, actor domain.Actor, incidentID, content string) (domain.TimelineEvent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimelineEvent{}, storeErr("begin timeline", err)
	}
	defer tx.Rollback()

	inc, err := e.Repo.GetIncident(ctx, tx, incidentID)
	if err != nil {
		return domain.TimelineEvent{}, storeErr("get incident", err)
	}
	if err := e.authorize(actor, auth.ActionAddTimeline, auth.ResourceOf(inc)); err != nil {
		return domain.TimelineEvent{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.TimelineEvent{}, invalidInput("content is required")
	}
	ev := domain.TimelineEvent{
		ID:         newID(),
		IncidentID: inc.ID,
		Content:    content,
		CreatedBy:  actor.ID,
		Creator:    domain.UserRef{ID: actor.ID, Email: actor.Email},
		CreatedAt:  e.now(),
	}
	if err := e.Repo.InsertTimelineEvent(ctx, tx, ev); err != nil {
		return domain.TimelineEvent{}, storeErr("insert timeline event", err)
	}
	if err := e.events().Append(ctx, tx, events.TimelineAdded, "incident", inc.ID, actor.ID, events.EventPayload{
		"timeline_event_id": ev.ID,
	}); err != nil {
		return domain.TimelineEvent{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TimelineEvent{}, storeErr("commit timeline", err)
	}
	return ev, nil
}
