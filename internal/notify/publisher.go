package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher stamps events and hands them to a sink, optionally through a
// bounded buffer drained by one goroutine.
type Publisher struct {
	sink   Sink
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
	now    func() time.Time
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer queues events and writes them in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	if sink == nil {
		panic("notify.NewPublisher: sink is required")
	}
	p := &Publisher{sink: sink, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Go(p.drain)
	}
	return p
}

func (p *Publisher) drain() {
	for event := range p.events {
		if err := p.sink.Write(context.Background(), event); err != nil {
			p.logger.Error("failed to deliver notification",
				"error", err,
				"kind", event.Kind,
				"id", event.ID,
			)
		}
	}
}

// Close stops the async drain and waits for queued events.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

// Publish fills ID and OccurredAt when missing and delivers the event. In async
// mode a full buffer drops the event with a warning.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	if !p.async {
		return p.sink.Write(ctx, event)
	}
	select {
	case p.events <- event:
	default:
		p.logger.WarnContext(ctx, "notification buffer full, event dropped",
			"kind", event.Kind,
			"id", event.ID,
		)
	}
	return nil
}
