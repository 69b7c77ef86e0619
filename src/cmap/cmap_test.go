package cmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMap() *Map[string, int] {
	return New[string, int](DefaultShardCount, XXHash)
}

func TestMapSetAndGet(t *testing.T) {
	m := newTestMap()
	m.Set("one", 1)
	v, present := m.Get("one")
	assert.True(t, present)
	assert.Equal(t, 1, v)
	_, present = m.Get("two")
	assert.False(t, present)
}

func TestMapSetIfAbsent(t *testing.T) {
	m := newTestMap()
	v, inserted := m.SetIfAbsent("one", 1)
	assert.True(t, inserted)
	assert.Equal(t, 1, v)
	v, inserted = m.SetIfAbsent("one", 2)
	assert.False(t, inserted)
	assert.Equal(t, 1, v, "the existing value wins")
}

func TestMapDelete(t *testing.T) {
	m := newTestMap()
	m.Set("one", 1)
	m.Delete("one")
	_, present := m.Get("one")
	assert.False(t, present)
	m.Delete("never_existed") // no-op
}

func TestMapLenAndKeys(t *testing.T) {
	m := newTestMap()
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprintf("key%d", i), i)
	}
	assert.Equal(t, 100, m.Len())
	assert.Len(t, m.Keys(), 100)
	assert.Len(t, m.Values(), 100)
}

func TestMapConcurrentWriters(t *testing.T) {
	m := newTestMap()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.SetIfAbsent(fmt.Sprintf("key%d", j), i)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, m.Len())
}

func TestNewPanicsOnBadShardCount(t *testing.T) {
	assert.Panics(t, func() { New[string, int](3, XXHash) })
}

func TestMutexSetExcludesSameKeyOnly(t *testing.T) {
	s := NewMutexSet[string]()
	unlock := s.Lock("a")
	// A different key's lock must be acquirable while "a" is held.
	done := make(chan struct{})
	go func() {
		unlockB := s.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlock()
}

func TestMutexSetSerialisesCriticalSections(t *testing.T) {
	s := NewMutexSet[string]()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("key")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
