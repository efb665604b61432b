//go:build integration

// Package containers starts the backing services the integration suites run
// against: Postgres for the registrations table and notification outbox, Redis for
// conversation state, and a Kafka-compatible broker for payment notifications.
// Each service starts at most once per test binary and is shared across suites;
// Ryuk removes the containers when the binary exits.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out shared containers, starting each on first request.
type Manager struct {
	postgres lazy[*PostgresContainer]
	redis    lazy[*RedisContainer]
	kafka    lazy[*KafkaContainer]
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the per-binary container manager.
func GetManager() *Manager {
	managerOnce.Do(func() { manager = &Manager{} })
	return manager
}

// GetPostgres returns Postgres with the embedded migrations applied.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return m.postgres.get(t, NewPostgresContainer)
}

// GetRedis returns the session store Redis.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return m.redis.get(t, NewRedisContainer)
}

// GetKafka returns the broker.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return m.kafka.get(t, NewKafkaContainer)
}

// lazy starts a container on first use. A failed start calls t.Fatalf inside
// start, so later callers in other suites retry rather than see a nil value.
type lazy[T any] struct {
	mu      sync.Mutex
	value   T
	started bool
}

func (l *lazy[T]) get(t *testing.T, start func(*testing.T) T) T {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		l.value = start(t)
		l.started = true
	}
	return l.value
}
