// Package cmap contains thread-safe concurrent map structures.
// They are sharded to reduce contention when many goroutines hit the same
// map, which is the normal situation for the stores in this engine; for
// small, rarely-contended maps a plain mutex does fine.
package cmap

import (
	"fmt"
	"sync"
)

// DefaultShardCount is a reasonable default shard count for a large map.
const DefaultShardCount = 1 << 8

// A Map is a sharded map. All functions on it are threadsafe.
// It should be constructed via New() rather than creating an instance directly.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	hasher func(K) uint64
	mask   uint64
}

// New creates a new Map using the given hasher to hash keys.
// The shard count must be a power of 2; it will panic if not.
func New[K comparable, V any](shardCount uint64, hasher func(K) uint64) *Map[K, V] {
	mask := shardCount - 1
	if (shardCount & mask) != 0 {
		panic(fmt.Sprintf("Shard count %d is not a power of 2", shardCount))
	}
	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   mask,
		hasher: hasher,
	}
	for i := range m.shards {
		m.shards[i].m = map[K]V{}
	}
	return m
}

// Set is the equivalent of `map[key] = val`.
func (m *Map[K, V]) Set(key K, val V) {
	m.shard(key).Set(key, val)
}

// SetIfAbsent inserts the value if the key is not already present.
// It returns the value now in the map and true if it inserted.
func (m *Map[K, V]) SetIfAbsent(key K, val V) (V, bool) {
	return m.shard(key).SetIfAbsent(key, val)
}

// Get returns the value for a key, and true if it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.shard(key).Get(key)
}

// Delete removes the value for a key, if present.
func (m *Map[K, V]) Delete(key K) {
	m.shard(key).Delete(key)
}

// Len returns the current number of entries. It is not consistent with
// concurrent mutation, which is fine for the stats we use it for.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		n += m.shards[i].Len()
	}
	return n
}

// Keys returns a slice of all the current keys in the map.
// No particular consistency guarantees are made against concurrent writers.
func (m *Map[K, V]) Keys() []K {
	ret := []K{}
	for i := range m.shards {
		ret = append(ret, m.shards[i].Keys()...)
	}
	return ret
}

// Values returns a slice of all the current values in the map.
// No particular consistency guarantees are made against concurrent writers.
func (m *Map[K, V]) Values() []V {
	ret := []V{}
	for i := range m.shards {
		ret = append(ret, m.shards[i].Values()...)
	}
	return ret
}

func (m *Map[K, V]) shard(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&m.mask]
}

// A shard is one of the individual shards of a map.
type shard[K comparable, V any] struct {
	m map[K]V
	l sync.RWMutex
}

func (s *shard[K, V]) Set(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	s.m[key] = val
}

func (s *shard[K, V]) SetIfAbsent(key K, val V) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	if existing, present := s.m[key]; present {
		return existing, false
	}
	s.m[key] = val
	return val, true
}

func (s *shard[K, V]) Get(key K) (V, bool) {
	s.l.RLock()
	defer s.l.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *shard[K, V]) Delete(key K) {
	s.l.Lock()
	defer s.l.Unlock()
	delete(s.m, key)
}

func (s *shard[K, V]) Len() int {
	s.l.RLock()
	defer s.l.RUnlock()
	return len(s.m)
}

func (s *shard[K, V]) Keys() []K {
	s.l.RLock()
	defer s.l.RUnlock()
	ret := make([]K, 0, len(s.m))
	for k := range s.m {
		ret = append(ret, k)
	}
	return ret
}

func (s *shard[K, V]) Values() []V {
	s.l.RLock()
	defer s.l.RUnlock()
	ret := make([]V, 0, len(s.m))
	for _, v := range s.m {
		ret = append(ret, v)
	}
	return ret
}
