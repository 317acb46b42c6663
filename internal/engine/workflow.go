package engine

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"incidentline/internal/domain"
	"incidentline/internal/engine/auth"
	"incidentline/internal/events"
)

// AllowedTransitions lists the statuses reachable from s in one review.
func AllowedTransitions(s domain.Status) []domain.Status {
	switch s {
	case domain.StatusOpen:
		return []domain.Status{domain.StatusInReview}
	case domain.StatusInReview:
		return []domain.Status{domain.StatusApproved, domain.StatusRejected}
	default:
		return nil
	}
}

func CanTransition(from, to domain.Status) bool {
	for _, s := range AllowedTransitions(from) {
		if s == to {
			return true
		}
	}
	return false
}

func ensureTransition(from, to domain.Status) error {
	if !CanTransition(from, to) {
		return InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// ReviewOptions are parameters for submitting a review.
type ReviewOptions struct {
	IncidentID string
	Status     domain.Status
	Comment    string
}

type ReviewResult struct {
	Incident domain.Incident `json:"incident"`
	Review   domain.Review   `json:"review"`
}

// SubmitReview moves an incident along the workflow and records the review
// that did it. Reading the current status, checking the edge and writing
// both rows happen in one transaction; the status update only applies if the
// status is still the one that was checked.
func (e Engine) SubmitReview(ctx context.Context, actor domain.Actor, opts ReviewOptions) (res ReviewResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.SubmitReview", trace.WithAttributes(
		attribute.String("incident.id", opts.IncidentID),
		attribute.String("review.status", string(opts.Status)),
	))
	defer func() { endSpan(span, err) }()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReviewResult{}, storeErr("begin review", err)
	}
	defer tx.Rollback()

	inc, err := e.Repo.GetIncident(ctx, tx, opts.IncidentID)
	if err != nil {
		return ReviewResult{}, storeErr("get incident", err)
	}
	if err := e.authorize(actor, auth.ActionSubmitReview, auth.ResourceOf(inc)); err != nil {
		return ReviewResult{}, err
	}
	if opts.Status == "" {
		return ReviewResult{}, invalidInput("status is required")
	}
	if !opts.Status.Valid() {
		return ReviewResult{}, invalidInput("unknown status %q", opts.Status)
	}
	if err := ensureTransition(inc.Status, opts.Status); err != nil {
		e.Metrics.IncRejectedTransition(string(inc.Status), string(opts.Status))
		return ReviewResult{}, err
	}

	now := e.now()
	applied, err := e.Repo.CompareAndSetStatus(ctx, tx, inc.ID, inc.Status, opts.Status, now)
	if err != nil {
		return ReviewResult{}, storeErr("update status", err)
	}
	if !applied {
		current, err := e.Repo.GetIncident(ctx, tx, inc.ID)
		if err != nil {
			return ReviewResult{}, storeErr("reload incident", err)
		}
		e.Metrics.IncRejectedTransition(string(current.Status), string(opts.Status))
		return ReviewResult{}, InvalidTransitionError{From: current.Status, To: opts.Status}
	}

	review := domain.Review{
		ID:         newID(),
		IncidentID: inc.ID,
		Status:     opts.Status,
		ReviewedBy: actor.ID,
		Reviewer:   domain.UserRef{ID: actor.ID, Email: actor.Email},
		ReviewedAt: now,
	}
	if c := strings.TrimSpace(opts.Comment); c != "" {
		review.Comment = &c
	}
	if err := e.Repo.InsertReview(ctx, tx, review); err != nil {
		return ReviewResult{}, storeErr("insert review", err)
	}
	if err := e.events().Append(ctx, tx, events.ReviewSubmitted, "incident", inc.ID, actor.ID, events.EventPayload{
		"from":      inc.Status,
		"to":        opts.Status,
		"review_id": review.ID,
	}); err != nil {
		return ReviewResult{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return ReviewResult{}, storeErr("commit review", err)
	}
	e.Metrics.IncTransition(string(inc.Status), string(opts.Status))

	inc.Status = opts.Status
	inc.UpdatedAt = now
	inc.ReviewCount++
	return ReviewResult{Incident: inc, Review: review}, nil
}
