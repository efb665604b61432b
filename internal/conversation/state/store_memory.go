package state

import (
	"context"
	"sync"
	"time"

	dErrors "regdesk/pkg/domain-errors"
)

type memoryEntry struct {
	state     *State
	expiresAt time.Time
}

// InMemoryStore keeps sessions in a map. Expired entries are invisible to Load
// and removed by DeleteExpired.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore builds a store; ttl <= 0 uses DefaultTTL.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// WithClock overrides the store's time source.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return e.state.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, st *State) error {
	if st == nil || st.SessionID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[st.SessionID] = memoryEntry{state: st.Clone(), expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}
