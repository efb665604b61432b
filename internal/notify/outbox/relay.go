package outbox

import (
	"context"
	"log/slog"
	"time"

	"regdesk/internal/notify/outbox/metrics"
	"regdesk/internal/platform/kafka/producer"
)

// Producer is the slice of the Kafka producer the relay needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Relay polls the store and publishes pending entries. Delivery is at least
// once: an entry published but not marked is sent again on the next poll, and
// consumers dedupe on the event_id header.
type Relay struct {
	store        Store
	producer     Producer
	topic        string
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithRetention sets how long processed entries are kept before pruning.
func WithRetention(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRelay creates a relay publishing to topic. Panics if store or producer is nil.
func NewRelay(store Store, prod Producer, topic string, opts ...Option) *Relay {
	if store == nil || prod == nil {
		panic("outbox.NewRelay: store and producer are required")
	}
	r := &Relay{
		store:        store,
		producer:     prod,
		topic:        topic,
		batchSize:    100,
		pollInterval: 500 * time.Millisecond,
		retention:    7 * 24 * time.Hour,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start polls until ctx is cancelled, then drains what is left with a short
// deadline of its own.
func (r *Relay) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.drain(drainCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-prune.C:
			r.prune(ctx)
		}
	}
}

// RunOnce relays one batch and reports how many entries were published.
func (r *Relay) RunOnce(ctx context.Context) int {
	entries, err := r.store.FetchUnprocessed(ctx, r.batchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to fetch outbox entries", "error", err)
		r.failed()
		return 0
	}
	if len(entries) == 0 {
		r.updateDepth(ctx)
		return 0
	}
	if r.metrics != nil {
		r.metrics.BatchSize.Observe(float64(len(entries)))
	}

	published := 0
	for _, entry := range entries {
		if err := r.publish(ctx, entry); err != nil {
			r.logger.ErrorContext(ctx, "failed to relay notification",
				"id", entry.ID,
				"kind", entry.Kind,
				"error", err,
			)
			r.failed()
			continue
		}
		if err := r.store.MarkProcessed(ctx, entry.ID, r.now().UTC()); err != nil {
			r.logger.ErrorContext(ctx, "failed to mark notification relayed",
				"id", entry.ID,
				"error", err,
			)
			continue
		}
		published++
		if r.metrics != nil {
			r.metrics.PublishedTotal.Inc()
		}
	}
	r.updateDepth(ctx)
	return published
}

func (r *Relay) publish(ctx context.Context, entry *Entry) error {
	start := time.Now()
	err := r.producer.Produce(ctx, &producer.Message{
		Topic: r.topic,
		Key:   []byte(entry.Kind),
		Value: entry.Payload,
		Headers: map[string]string{
			"kind":     string(entry.Kind),
			"event_id": entry.ID.String(),
		},
	})
	if err == nil && r.metrics != nil {
		r.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if r.RunOnce(ctx) == 0 {
			return
		}
	}
}

func (r *Relay) prune(ctx context.Context) {
	n, err := r.store.DeleteProcessedBefore(ctx, r.now().Add(-r.retention))
	if err != nil {
		r.logger.WarnContext(ctx, "failed to prune relayed notifications", "error", err)
		return
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "pruned relayed notifications", "count", n)
	}
}

func (r *Relay) updateDepth(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if n, err := r.store.CountPending(ctx); err == nil {
		r.metrics.PendingDepth.Set(float64(n))
	}
}

func (r *Relay) failed() {
	if r.metrics != nil {
		r.metrics.PublishFailures.Inc()
	}
}
