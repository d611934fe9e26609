// Package sync provides per-key locking for read-modify-write sequences on
// store records.
package sync

import (
	"hash/maphash"
	"sync"
)

const shardCount = 32

// ShardedMutex serializes callers that share a key. Keys map onto a fixed set
// of shards, so unrelated keys may occasionally contend.
type ShardedMutex struct {
	seed   maphash.Seed
	shards [shardCount]sync.Mutex
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{seed: maphash.MakeSeed()}
}

func (m *ShardedMutex) Lock(key string)   { m.shards[m.shardFor(key)].Lock() }
func (m *ShardedMutex) Unlock(key string) { m.shards[m.shardFor(key)].Unlock() }

// With runs fn while holding the lock for key.
func (m *ShardedMutex) With(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(maphash.String(m.seed, key) % shardCount)
}
