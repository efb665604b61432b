// Package outbox stores notifications in Postgres and relays them to Kafka, so
// an event accepted by the publisher survives a broker outage or a restart.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regdesk/internal/notify"
)

// Entry is one pending notification.
type Entry struct {
	ID          uuid.UUID
	Kind        notify.Kind
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sink is a notify.Sink that only records the event; the Relay delivers it.
type Sink struct {
	store Store
	now   func() time.Time
}

func NewSink(store Store) *Sink {
	if store == nil {
		panic("outbox.NewSink: store is required")
	}
	return &Sink{store: store, now: time.Now}
}

func (s *Sink) Write(ctx context.Context, event notify.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	id, err := uuid.Parse(event.ID)
	if err != nil {
		id = uuid.New()
	}
	return s.store.Append(ctx, &Entry{
		ID:        id,
		Kind:      event.Kind,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	})
}
