package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for payment reconciliation.
type Metrics struct {
	Reconciliations *prometheus.CounterVec
	MatchTier       *prometheus.CounterVec
	Duration        prometheus.Histogram
	Shortfall       prometheus.Histogram
}

// New registers and returns reconciliation metrics collectors.
func New() *Metrics {
	return &Metrics{
		Reconciliations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_payment_reconciliations_total",
			Help: "Payment notifications processed by outcome",
		}, []string{"status"}),
		MatchTier: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_payment_match_tier_total",
			Help: "Which lookup tier located the registration",
		}, []string{"tier"}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_payment_reconcile_duration_seconds",
			Help:    "Time to reconcile one notification",
			Buckets: prometheus.DefBuckets,
		}),
		Shortfall: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_payment_shortfall_dollars",
			Help:    "Amount missing on partial payments",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200},
		}),
	}
}

func (m *Metrics) ObserveOutcome(status, tier string, d time.Duration) {
	m.Reconciliations.WithLabelValues(status).Inc()
	if tier != "" {
		m.MatchTier.WithLabelValues(tier).Inc()
	}
	m.Duration.Observe(d.Seconds())
}
