package request

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the HTTP surface: chat turns, uploads, payment notifications and
// the staff endpoints all share one set of route-labelled series.
type Metrics struct {
	RouteLatency *prometheus.HistogramVec
	Responses    *prometheus.CounterVec
	InFlight     prometheus.Gauge
}

// NewMetrics registers the HTTP series with the default registry. Call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		RouteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "regdesk_http_route_latency_seconds",
			Help: "Handler latency per route pattern",
			// Chat turns that reach the LLM or cloud OCR run into tens of seconds.
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		Responses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_http_responses_total",
			Help: "Responses per route, method and status class",
		}, []string{"route", "method", "class"}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "regdesk_http_in_flight_requests",
			Help: "Requests currently being served",
		}),
	}
}

func (m *Metrics) observe(route, method string, status int, seconds float64) {
	m.RouteLatency.WithLabelValues(route).Observe(seconds)
	m.Responses.WithLabelValues(route, method, statusClass(status)).Inc()
}

// statusClass folds a status code to "2xx", "4xx" and so on.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
