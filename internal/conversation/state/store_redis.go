package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "regdesk/pkg/domain-errors"
)

const keyPrefix = "conversation:"

// RedisStore keeps each session as a JSON string whose key TTL is reset on Save.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore builds a store; ttl <= 0 uses DefaultTTL.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("state.NewRedisStore: client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return keyPrefix + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*State, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if st.Data == nil {
		st.Data = map[string]string{}
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, st *State) error {
	if st == nil || st.SessionID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(st.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys on its own.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
