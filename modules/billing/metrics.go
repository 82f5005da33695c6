package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billsync/pkg/subscription"
)

// Metrics holds the billing Prometheus collectors. It satisfies
// subscription.FallbackRecorder.
type Metrics struct {
	webhooks        *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	portalFallbacks *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
}

var _ subscription.FallbackRecorder = (*Metrics)(nil)

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billsync",
			Name:      "webhook_duration_seconds",
			Help:      "Time spent verifying and reconciling a webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		portalFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "portal_fallbacks_total",
			Help:      "Portal lookups that fell through to the next provider.",
		}, []string{"provider", "reason"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.webhooks, m.webhookDuration, m.portalFallbacks, m.checkouts)
	}
	return m
}

func (m *Metrics) Webhook(provider, outcome string, took time.Duration) {
	m.webhooks.WithLabelValues(provider, outcome).Inc()
	m.webhookDuration.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) PortalFallback(provider subscription.ProviderKind, reason string) {
	m.portalFallbacks.WithLabelValues(string(provider), reason).Inc()
}

func (m *Metrics) Checkout(provider, outcome string) {
	m.checkouts.WithLabelValues(provider, outcome).Inc()
}

// WebhookCounter exposes a single webhook counter series.
func (m *Metrics) WebhookCounter(provider, outcome string) prometheus.Counter {
	return m.webhooks.WithLabelValues(provider, outcome)
}

// CheckoutCounter exposes a single checkout counter series.
func (m *Metrics) CheckoutCounter(provider, outcome string) prometheus.Counter {
	return m.checkouts.WithLabelValues(provider, outcome)
}
