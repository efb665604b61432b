package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for conversation turns.
type Metrics struct {
	Turns           *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	Hops            prometheus.Histogram
	AssistantCalls  *prometheus.CounterVec
}

// New registers and returns conversation metrics collectors.
func New() *Metrics {
	return &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_conversation_turns_total",
			Help: "Conversation turns by outcome",
		}, []string{"outcome"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_conversation_transitions_total",
			Help: "Step transitions taken",
		}, []string{"from", "to"}),
		HandlerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_conversation_handler_failures_total",
			Help: "Handler errors and panics by handler",
		}, []string{"handler"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_conversation_turn_duration_seconds",
			Help:    "Wall time of one turn",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Hops: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_conversation_turn_hops",
			Help:    "Handlers chained within one turn",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
		}),
		AssistantCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_assistant_capability_calls_total",
			Help: "Capability invocations requested by the language model",
		}, []string{"capability", "outcome"}),
	}
}

func (m *Metrics) ObserveTurn(outcome string, hops int, d time.Duration) {
	m.Turns.WithLabelValues(outcome).Inc()
	if hops > 0 {
		m.Hops.Observe(float64(hops))
	}
	m.TurnDuration.Observe(d.Seconds())
}
