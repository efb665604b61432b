package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for document verification.
type Metrics struct {
	Verifications  *prometheus.CounterVec
	Escalations    prometheus.Counter
	OCRDuration    *prometheus.HistogramVec
	OCRFailures    *prometheus.CounterVec
	KeywordScores  *prometheus.HistogramVec
	PersistFailure prometheus.Counter
}

// New registers and returns verification metrics collectors.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_verifications_total",
			Help: "Document verifications by outcome",
		}, []string{"status", "doc_type"}),
		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_verification_escalations_total",
			Help: "Local OCR passes discarded in favour of cloud OCR",
		}),
		OCRDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regdesk_ocr_duration_seconds",
			Help:    "OCR call latency by provider",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"provider"}),
		OCRFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_ocr_failures_total",
			Help: "OCR calls that returned an error",
		}, []string{"provider"}),
		KeywordScores: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regdesk_verification_keyword_score",
			Help:    "Keyword density of accepted OCR passes",
			Buckets: []float64{0.11, 0.22, 0.33, 0.44, 0.56, 0.67, 0.78, 0.89, 1},
		}, []string{"source"}),
		PersistFailure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_verification_persist_failures_total",
			Help: "Verdicts that could not be written to exactly one record",
		}),
	}
}

func (m *Metrics) ObserveOCR(provider string, d time.Duration, err error) {
	m.OCRDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.OCRFailures.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) IncrementOutcome(status, docType string) {
	m.Verifications.WithLabelValues(status, docType).Inc()
}
