package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics records matching activity for the service.
type ReconciliationMetrics struct {
	webhooks *prometheus.CounterVec
	links    *prometheus.CounterVec
}

var (
	reconciliationOnce sync.Once
	reconciliationReg  *ReconciliationMetrics
)

// Reconciliation returns the lazily-initialised reconciliation metrics
// registered with the default prometheus registry.
func Reconciliation() *ReconciliationMetrics {
	reconciliationOnce.Do(func() {
		reconciliationReg = &ReconciliationMetrics{
			webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reconcile",
				Subsystem: "intake",
				Name:      "webhook_events_total",
				Help:      "Webhook events segmented by event type and outcome.",
			}, []string{"event", "outcome"}),
			links: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reconcile",
				Subsystem: "engine",
				Name:      "links_created_total",
				Help:      "Reconciliation links created segmented by match type.",
			}, []string{"match_type"}),
		}
		prometheus.MustRegister(reconciliationReg.webhooks, reconciliationReg.links)
	})
	return reconciliationReg
}

// RecordWebhook counts one webhook event with its processing outcome
// (accepted, duplicate, rejected, invalid).
func (m *ReconciliationMetrics) RecordWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

// RecordLink counts one created reconciliation link.
func (m *ReconciliationMetrics) RecordLink(matchType string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(matchType).Inc()
}
