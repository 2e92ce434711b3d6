package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox relay outcomes.
const (
	OutboxPublished = "published"
	OutboxRetried   = "retried"
	OutboxTerminal  = "terminal"
)

// OutboxMetrics tracks the relay from the outbox table to Pub/Sub.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	publish prometheus.Histogram
	batches prometheus.Counter
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox rows handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	publish := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outbox_publish_seconds",
		Help:      "Latency of a single Pub/Sub publish including the server ack.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
	})
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_batches_total",
		Help:      "Non-empty batches claimed from the outbox table.",
	})
	reg.MustRegister(events, publish, batches)
	return &OutboxMetrics{events: events, publish: publish, batches: batches}
}

func (o *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (o *OutboxMetrics) ObservePublish(d time.Duration) {
	if o == nil || o.publish == nil {
		return
	}
	o.publish.Observe(d.Seconds())
}

func (o *OutboxMetrics) IncBatch() {
	if o == nil || o.batches == nil {
		return
	}
	o.batches.Inc()
}
