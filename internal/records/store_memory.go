package records

import (
	"context"
	"sync"
)

// InMemoryStore keeps rows in a slice guarded by an RWMutex.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows []Row
	opts options
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	return &InMemoryStore{opts: buildOptions(opts)}
}

func (s *InMemoryStore) Append(_ context.Context, fields Fields) (Row, error) {
	row := newRow(fields, s.opts.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return row.Clone(), nil
}

func (s *InMemoryStore) Find(_ context.Context, matches ...Match) ([]Row, error) {
	if err := validateMatches(matches, false); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Row
	for _, row := range s.rows {
		if Matches(row, matches) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, fields Fields, matches ...Match) (bool, error) {
	if err := validateMatches(matches, true); err != nil {
		return false, err
	}
	changes, err := resolveUpdate(fields, s.opts.now())
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target := -1
	for i, row := range s.rows {
		if !Matches(row, matches) {
			continue
		}
		if target >= 0 {
			return false, nil
		}
		target = i
	}
	if target < 0 {
		return false, nil
	}
	for c, v := range changes {
		s.rows[target][c] = v
	}
	return true, nil
}

// Len reports the number of stored rows.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
