package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.IncTransition("OPEN", "IN_REVIEW")
	m.IncTransition("OPEN", "IN_REVIEW")
	m.IncRejectedTransition("OPEN", "APPROVED")
	m.IncShareResolution("gone")
	m.AddSharePurged(3)
	m.AddSharePurged(0)
	m.IncWebhookDelivery("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("OPEN", "IN_REVIEW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTransitions.WithLabelValues("OPEN", "APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShareResolutions.WithLabelValues("gone")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ShareLinksPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("failed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTransition("OPEN", "IN_REVIEW")
		m.IncShareCreated()
		m.IncShareRevoked()
		m.AddSharePurged(1)
		m.IncWebhookDelivery("ok")
	})
}

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
