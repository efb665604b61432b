package sync

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex()

	unlock := m.Lock("session-1")
	unlock()

	// Empty key falls back to shard 0.
	unlock = m.Lock("")
	unlock()
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() {
			unlock := m.Lock(Key("Jane Doe", "Standard First Aid", "2025-12-05"))
			defer unlock()
			counter++
		})
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_Do(t *testing.T) {
	m := NewShardedMutex()
	sentinel := errors.New("update failed")

	err := m.Do("record", func() error { return sentinel })

	assert.ErrorIs(t, err, sentinel)
	// The shard must be released even when fn fails.
	unlock := m.Lock("record")
	unlock()
}

func TestShardedMutex_ShardDistribution(t *testing.T) {
	m := NewShardedMutex()
	shards := make(map[int]bool)
	for _, key := range []string{"sess-a", "sess-b", "sess-c", "jane|sfa", "john|mft", "ana|bjj"} {
		shards[m.shardFor(key)] = true
	}
	assert.GreaterOrEqual(t, len(shards), 3)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("Jane Doe", "SFA"), Key(" jane doe", "sfa "))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}
