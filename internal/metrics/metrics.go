package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workflow and share-link counters. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions         *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec
	ShareLinksCreated   prometheus.Counter
	ShareResolutions    *prometheus.CounterVec
	ShareLinksRevoked   prometheus.Counter
	ShareLinksPurged    prometheus.Counter
	WebhookDeliveries   *prometheus.CounterVec
}

// New registers all metrics on a fresh registry so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incidentline_status_transitions_total",
			Help: "Accepted incident status transitions by source and target status",
		}, []string{"from", "to"}),
		RejectedTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incidentline_status_transitions_rejected_total",
			Help: "Review submissions refused by the workflow",
		}, []string{"from", "to"}),
		ShareLinksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "incidentline_share_links_created_total",
			Help: "Share links issued",
		}),
		ShareResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incidentline_share_resolutions_total",
			Help: "Share link resolutions by outcome",
		}, []string{"outcome"}), // outcome: "ok", "not_found", "gone"
		ShareLinksRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "incidentline_share_links_revoked_total",
			Help: "Share links revoked by an admin",
		}),
		ShareLinksPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "incidentline_share_links_purged_total",
			Help: "Expired share links removed by the sweeper",
		}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "incidentline_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		}, []string{"outcome"}), // outcome: "ok", "failed"
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncRejectedTransition(from, to string) {
	if m != nil {
		m.RejectedTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncShareCreated() {
	if m != nil {
		m.ShareLinksCreated.Inc()
	}
}

func (m *Metrics) IncShareResolution(outcome string) {
	if m != nil {
		m.ShareResolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncShareRevoked() {
	if m != nil {
		m.ShareLinksRevoked.Inc()
	}
}

func (m *Metrics) AddSharePurged(n int64) {
	if m != nil && n > 0 {
		m.ShareLinksPurged.Add(float64(n))
	}
}

func (m *Metrics) IncWebhookDelivery(outcome string) {
	if m != nil {
		m.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}
