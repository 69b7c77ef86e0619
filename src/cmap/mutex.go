package cmap

import (
	"sync"
)

// A MutexSet provides one mutex per key, created on demand and never removed.
// It bounds contention to callers racing on the same key, rather than a
// single lock covering all of them.
type MutexSet[K comparable] struct {
	mutexes map[K]*sync.Mutex
	l       sync.Mutex
}

// NewMutexSet creates a new MutexSet.
func NewMutexSet[K comparable]() *MutexSet[K] {
	return &MutexSet[K]{mutexes: map[K]*sync.Mutex{}}
}

// Lock acquires the mutex for the given key, creating it if needed.
// The returned function releases it again.
func (s *MutexSet[K]) Lock(key K) func() {
	s.l.Lock()
	mutex, present := s.mutexes[key]
	if !present {
		mutex = &sync.Mutex{}
		s.mutexes[key] = mutex
	}
	s.l.Unlock()
	mutex.Lock()
	return mutex.Unlock
}
