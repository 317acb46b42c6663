package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"incidentline/internal/config"
	"incidentline/internal/domain"
	"incidentline/internal/engine"
	"incidentline/internal/metrics"
	"incidentline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100

	headerEvent     = "X-Incidentline-Event"
	headerDelivery  = "X-Incidentline-Delivery"
	headerTimestamp = "X-Incidentline-Timestamp"
	headerSignature = "X-Incidentline-Signature"
)

// hookState is one configured endpoint and how far it has read the event log.
// An unset cursor is primed with the newest event id on first use, so events
// recorded before the dispatcher started are never sent.
type hookState struct {
	cfg    config.WebhookConfig
	filter eventFilter
	client *http.Client
	cursor string
	primed bool
}

type webhookDispatcher struct {
	repo     repo.Repo
	hooks    []*hookState
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// StartWebhookDispatcher forwards audit events to the configured webhooks
// until ctx is done. It returns immediately when no hook is enabled.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	if e.Config == nil {
		return
	}
	d := newWebhookDispatcher(e.Repo, e.Config.Webhooks, e.Metrics, logger)
	if len(d.hooks) == 0 {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, m *metrics.Metrics, logger *slog.Logger) *webhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &webhookDispatcher{
		repo:     r,
		metrics:  m,
		logger:   logger.With("component", "webhooks"),
		interval: defaultWebhookInterval,
		now:      time.Now,
	}
	for _, h := range hooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if h.TimeoutSeconds > 0 {
			timeout = time.Duration(h.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, &hookState{
			cfg:    h,
			filter: newEventFilter(h.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	return d
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchAll runs one delivery round. Hooks are served in sequence; only the
// run loop calls it, so hook state needs no locking.
func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.deliver(ctx, h)
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, h *hookState) {
	if !h.primed {
		latest, err := d.repo.LatestEventID(ctx)
		if err != nil {
			d.logger.Error("read latest event", "url", h.cfg.URL, "error", err)
			return
		}
		h.cursor, h.primed = latest, true
		return
	}
	batch, err := d.repo.EventsAfter(ctx, defaultWebhookBatch, h.cursor)
	if err != nil {
		d.logger.Error("read events", "url", h.cfg.URL, "error", err)
		return
	}
	for _, evt := range batch {
		if h.filter.match(evt.Type) {
			if err := d.post(ctx, h, evt); err != nil {
				d.metrics.IncWebhookDelivery("failed")
				d.logger.Warn("delivery failed, retrying next round", "url", h.cfg.URL, "event_id", evt.ID, "error", err)
				return
			}
			d.metrics.IncWebhookDelivery("ok")
		}
		h.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         time.Time       `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func newWebhookEvent(evt domain.Event) webhookEvent {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
}

func (d *webhookDispatcher) post(ctx context.Context, h *hookState, evt domain.Event) error {
	body, err := json.Marshal(newWebhookEvent(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, evt.Type)
	req.Header.Set(headerDelivery, evt.ID)
	if secret := strings.TrimSpace(h.cfg.Secret); secret != "" {
		ts := strconv.FormatInt(d.now().Unix(), 10)
		req.Header.Set(headerTimestamp, ts)
		req.Header.Set(headerSignature, "sha256="+signWebhook(secret, ts, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// signWebhook is the hex HMAC-SHA256 of "<timestamp>.<body>" keyed by the
// hook secret. Receivers recompute it to authenticate the delivery.
func signWebhook(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// eventFilter matches event types against exact names, "prefix.*" patterns
// or "*". No patterns means every event.
type eventFilter struct {
	all      bool
	exact    map[string]struct{}
	prefixes []string
}

func newEventFilter(patterns []string) eventFilter {
	f := eventFilter{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			f.all = true
		case strings.HasSuffix(p, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(p, "*"))
		default:
			f.exact[p] = struct{}{}
		}
	}
	if len(f.exact) == 0 && len(f.prefixes) == 0 {
		f.all = true
	}
	return f
}

func (f eventFilter) match(eventType string) bool {
	if f.all {
		return true
	}
	if _, ok := f.exact[eventType]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}
