package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "storefront"

// Webhook outcomes.
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
	WebhookFailed    = "failed"
)

// WebhookMetrics counts provider deliveries by outcome.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Inbound provider webhook deliveries by outcome.",
	}, []string{"provider", "outcome"})
	reg.MustRegister(deliveries)
	return &WebhookMetrics{deliveries: deliveries}
}

// Observe increments the counter for provider/outcome.
func (w *WebhookMetrics) Observe(provider, outcome string) {
	if w == nil || w.deliveries == nil {
		return
	}
	w.deliveries.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}
