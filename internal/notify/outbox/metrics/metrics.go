package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the notification relay.
type Metrics struct {
	PendingDepth    prometheus.Gauge
	PublishedTotal  prometheus.Counter
	PublishFailures prometheus.Counter
	PublishDuration prometheus.Histogram
	BatchSize       prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		PendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "regdesk_outbox_pending_total",
			Help: "Notifications waiting to be relayed",
		}),
		PublishedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_outbox_published_total",
			Help: "Notifications relayed to the broker",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_outbox_publish_failures_total",
			Help: "Failed relay attempts, including store errors",
		}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_outbox_publish_duration_seconds",
			Help:    "Time to relay one notification",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_outbox_batch_size",
			Help:    "Entries relayed per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}
