package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"regdesk/internal/platform/kafka/producer"
	"regdesk/internal/platform/privacy"
)

//go:generate mockgen -source=sink.go -destination=mocks/mocks.go -package=mocks Sink

// Sink delivers a single event.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Producer is the slice of the Kafka producer the sink uses.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaSink writes events as JSON to one topic, keyed by kind.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(p Producer, topic string) *KafkaSink {
	if p == nil {
		panic("notify.NewKafkaSink: producer is required")
	}
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Write(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.producer.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.Kind),
		Value: value,
		Headers: map[string]string{
			"kind":     string(event.Kind),
			"event_id": event.ID,
		},
	})
}

// LogSink logs events instead of delivering them. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "notification",
		"id", event.ID,
		"kind", event.Kind,
		"registrant", privacy.MaskName(event.FullName),
		"course", event.Course,
		"course_date", event.CourseDate,
		"message", event.Message,
	)
	return nil
}

// MemorySink keeps events in order of arrival.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events...)
}

// ByKind returns the events of one kind.
func (s *MemorySink) ByKind(kind Kind) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
