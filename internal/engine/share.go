package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"incidentline/internal/config"
	"incidentline/internal/domain"
	"incidentline/internal/engine/auth"
	"incidentline/internal/events"
	"incidentline/internal/repo"
)

const (
	shareTokenBytes     = 32
	defaultShareBaseURL = "http://localhost:3000"
)

type ShareLinkResult struct {
	domain.ShareLink
	URL string `json:"url"`
}

// SharedIncident is what an anonymous share-link holder can read.
type SharedIncident struct {
	Detail domain.IncidentDetail
	Link   domain.ShareLink
}

func newShareToken() (string, error) {
	buf := make([]byte, shareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ShareURL is the public address of a share link.
func (e Engine) ShareURL(token string) string {
	base := defaultShareBaseURL
	if e.Config != nil && e.Config.Share.BaseURL != "" {
		base = e.Config.Share.BaseURL
	}
	return strings.TrimRight(base, "/") + "/share/" + url.PathEscape(token)
}

func (e Engine) CreateShareLink(ctx context.Context, actor domain.Actor, incidentID string, expiresAt time.Time) (res ShareLinkResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.CreateShareLink", trace.WithAttributes(attribute.String("incident.id", incidentID)))
	defer func() { endSpan(span, err) }()

	inc, err := e.Repo.GetIncident(ctx, nil, incidentID)
	if err != nil {
		return ShareLinkResult{}, storeErr("get incident", err)
	}
	if err := e.authorize(actor, auth.ActionCreateShare, auth.ResourceOf(inc)); err != nil {
		return ShareLinkResult{}, err
	}
	if expiresAt.IsZero() {
		return ShareLinkResult{}, invalidInput("expires_at is required")
	}
	now := e.now()
	if !expiresAt.After(now) {
		return ShareLinkResult{}, invalidInput("expires_at must be in the future")
	}
	token, err := newShareToken()
	if err != nil {
		return ShareLinkResult{}, &internalError{op: "create share link", err: err}
	}
	link := domain.ShareLink{
		ID:         newID(),
		IncidentID: inc.ID,
		Token:      token,
		ExpiresAt:  expiresAt.UTC(),
		CreatedBy:  actor.ID,
		CreatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ShareLinkResult{}, storeErr("begin share", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertShareLink(ctx, tx, link); err != nil {
		return ShareLinkResult{}, storeErr("insert share link", err)
	}
	if err := e.events().Append(ctx, tx, events.ShareCreated, "incident", inc.ID, actor.ID, events.EventPayload{
		"share_link_id": link.ID,
		"expires_at":    repo.FormatTime(link.ExpiresAt),
	}); err != nil {
		return ShareLinkResult{}, storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return ShareLinkResult{}, storeErr("commit share", err)
	}
	e.Metrics.IncShareCreated()
	return ShareLinkResult{ShareLink: link, URL: e.ShareURL(token)}, nil
}

// ResolveShareLink needs no identity: the token is the credential. Unknown
// tokens are NotFound; lapsed ones are Gone.
func (e Engine) ResolveShareLink(ctx context.Context, token string) (res SharedIncident, err error) {
	ctx, span := tracer.Start(ctx, "engine.ResolveShareLink")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(token) == "" {
		e.Metrics.IncShareResolution("not_found")
		return SharedIncident{}, fmt.Errorf("share link: %w", repo.ErrNotFound)
	}
	link, err := e.Repo.GetShareLinkByToken(ctx, nil, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.IncShareResolution("not_found")
		}
		return SharedIncident{}, storeErr("get share link", err)
	}
	if link.Expired(e.now()) {
		e.Metrics.IncShareResolution("gone")
		return SharedIncident{}, fmt.Errorf("share link expired at %s: %w", link.ExpiresAt.Format(time.RFC3339), ErrGone)
	}
	inc, err := e.Repo.GetIncident(ctx, nil, link.IncidentID)
	if err != nil {
		return SharedIncident{}, storeErr("get incident", err)
	}
	detail, err := e.detail(ctx, nil, inc)
	if err != nil {
		return SharedIncident{}, err
	}
	e.Metrics.IncShareResolution("ok")
	return SharedIncident{Detail: detail, Link: link}, nil
}

// RevokeShareLink deletes the link identified by token. When incidentID is
// set the link must belong to that incident. Whether active links may be
// revoked depends on share.revoke_policy.
func (e Engine) RevokeShareLink(ctx context.Context, actor domain.Actor, incidentID, token string) (err error) {
	ctx, span := tracer.Start(ctx, "engine.RevokeShareLink", trace.WithAttributes(attribute.String("incident.id", incidentID)))
	defer func() { endSpan(span, err) }()

	if err := e.authorize(actor, auth.ActionRevokeShare, auth.Resource{}); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin revoke", err)
	}
	defer tx.Rollback()

	link, err := e.Repo.GetShareLinkByToken(ctx, tx, token)
	if err != nil {
		return storeErr("get share link", err)
	}
	if incidentID != "" && link.IncidentID != incidentID {
		return fmt.Errorf("share link for incident %s: %w", incidentID, repo.ErrNotFound)
	}
	if e.revokePolicy() == config.RevokeExpiredOnly && !link.Expired(e.now()) {
		return invalidInput("share link has not expired; revoke policy is %s", config.RevokeExpiredOnly)
	}
	if err := e.Repo.DeleteShareLink(ctx, tx, link.ID); err != nil {
		return storeErr("delete share link", err)
	}
	if err := e.events().Append(ctx, tx, events.ShareRevoked, "incident", link.IncidentID, actor.ID, events.EventPayload{
		"share_link_id": link.ID,
	}); err != nil {
		return storeErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit revoke", err)
	}
	e.Metrics.IncShareRevoked()
	return nil
}

func (e Engine) RevokeShareLinkByToken(ctx context.Context, actor domain.Actor, token string) error {
	return e.RevokeShareLink(ctx, actor, "", token)
}

// PurgeExpiredShareLinks deletes links that lapsed more than
// share.purge_after ago. Until then a lapsed token still resolves as Gone;
// once purged it is NotFound like any unknown token.
func (e Engine) PurgeExpiredShareLinks(ctx context.Context) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin purge", err)
	}
	defer tx.Rollback()

	n, err := e.Repo.DeleteExpiredShareLinks(ctx, tx, e.now().Add(-e.purgeAfter()))
	if err != nil {
		return 0, storeErr("purge share links", err)
	}
	if n > 0 {
		if err := e.events().Append(ctx, tx, events.SharePurged, "share_link", "", "system", events.EventPayload{"count": n}); err != nil {
			return 0, storeErr("append event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit purge", err)
	}
	e.Metrics.AddSharePurged(n)
	if n > 0 {
		e.logger().Info("purged expired share links", "count", n)
	}
	return n, nil
}
