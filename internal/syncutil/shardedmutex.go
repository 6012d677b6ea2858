// Package syncutil provides small synchronization helpers shared by the
// wallet ledger and settlement state machine.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Wallet operations lock on seller ID so credit/debit on the same wallet
// serialize without unbounded per-key lock growth. Keys that hash to the
// same shard occasionally contend; that only costs latency, not
// correctness.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%256]
}
