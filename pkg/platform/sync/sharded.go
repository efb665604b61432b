package sync

import (
	"hash/fnv"
	"strings"
	"sync"
)

// ShardedMutex serializes work per key without a global lock.
// Keys hash onto a fixed set of shards, so unrelated keys may occasionally share one.
type ShardedMutex struct {
	shards [64]sync.Mutex
}

// NewShardedMutex creates a ShardedMutex with 64 shards.
func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{}
}

// Lock acquires the shard for key and returns the matching unlock function.
//
//	unlock := m.Lock(sessionID)
//	defer unlock()
func (m *ShardedMutex) Lock(key string) (unlock func()) {
	shard := &m.shards[m.shardFor(key)]
	shard.Lock()
	return shard.Unlock
}

// Do runs fn while holding the shard for key.
func (m *ShardedMutex) Do(key string, fn func() error) error {
	unlock := m.Lock(key)
	defer unlock()
	return fn()
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}

// Key joins parts into a case-insensitive lock key, so "Jane Doe" and "jane doe " share a lock.
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(normalized, "\x1f")
}
