// In-memory memoization store.

package memo

import (
	"context"

	"github.com/thought-machine/hoard/src/cmap"
	"github.com/thought-machine/hoard/src/core"
)

type memoryStore struct {
	entries   *cmap.Map[core.ContentHash, entry]
	selectors *cmap.Map[core.WeakFingerprint, []core.Selector]
	locks     *cmap.MutexSet[core.ContentHash]
	selLocks  *cmap.MutexSet[core.WeakFingerprint]
}

type entry struct {
	Strong core.StrongFingerprint
	List   core.ContentHashList
}

// NewMemoryStore returns a Store holding all entries in process memory.
func NewMemoryStore() Store {
	hashKey := func(h core.ContentHash) uint64 { return cmap.XXHashBytes(h[:]) }
	weakKey := func(w core.WeakFingerprint) uint64 { return cmap.XXHashBytes(w[:]) }
	return &memoryStore{
		entries:   cmap.New[core.ContentHash, entry](cmap.DefaultShardCount, hashKey),
		selectors: cmap.New[core.WeakFingerprint, []core.Selector](cmap.DefaultShardCount, weakKey),
		locks:     cmap.NewMutexSet[core.ContentHash](),
		selLocks:  cmap.NewMutexSet[core.WeakFingerprint](),
	}
}

func (s *memoryStore) GetSelectors(ctx context.Context, weak core.WeakFingerprint) ([]core.Selector, error) {
	sels, _ := s.selectors.Get(weak)
	// Copy; the caller's snapshot must not alias our MRU list.
	ret := make([]core.Selector, len(sels))
	copy(ret, sels)
	return ret, nil
}

func (s *memoryStore) Get(ctx context.Context, strong core.StrongFingerprint) (core.ContentHashList, bool, error) {
	e, present := s.entries.Get(strong.Hash())
	return e.List, present, nil
}

func (s *memoryStore) AddOrGet(ctx context.Context, strong core.StrongFingerprint, candidate core.ContentHashList) (AddResult, error) {
	key := strong.Hash()
	unlock := s.locks.Lock(key)
	defer unlock()
	existing, present := s.entries.Get(key)
	if !present {
		s.entries.Set(key, entry{Strong: strong, List: candidate})
		s.recordSelector(strong)
		return AddResult{Stored: candidate}, nil
	}
	result, write := resolve(existing.List, candidate)
	if write {
		s.entries.Set(key, entry{Strong: strong, List: candidate})
	}
	s.recordSelector(strong)
	return result, nil
}

// recordSelector bumps the fingerprint's selector to the front of the weak
// fingerprint's MRU list.
func (s *memoryStore) recordSelector(strong core.StrongFingerprint) {
	unlock := s.selLocks.Lock(strong.Weak)
	defer unlock()
	sels, _ := s.selectors.Get(strong.Weak)
	updated := []core.Selector{strong.Selector}
	for _, sel := range sels {
		if sel != strong.Selector {
			updated = append(updated, sel)
		}
	}
	s.selectors.Set(strong.Weak, updated)
}

func (s *memoryStore) EnumerateStrongFingerprints(ctx context.Context) <-chan core.StrongFingerprint {
	ch := make(chan core.StrongFingerprint)
	go func() {
		defer close(ch)
		for _, e := range s.entries.Values() {
			select {
			case ch <- e.Strong:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (s *memoryStore) Delete(ctx context.Context, strong core.StrongFingerprint) error {
	key := strong.Hash()
	unlock := s.locks.Lock(key)
	defer unlock()
	s.entries.Delete(key)
	return nil
}

func (s *memoryStore) Shutdown() {}
