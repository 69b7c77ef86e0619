// In-memory blob store, used for tests and as the fallback when no local
// directory is configured.

package cas

import (
	"bytes"
	"context"
	"io"

	"github.com/thought-machine/hoard/src/cmap"
	"github.com/thought-machine/hoard/src/core"
)

type MemoryStore struct {
	blobs *cmap.Map[core.ContentHash, []byte]
}

// NewMemoryStore returns a Store holding all blobs in process memory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: cmap.New[core.ContentHash, []byte](cmap.DefaultShardCount, func(h core.ContentHash) uint64 {
			return cmap.XXHashBytes(h[:])
		}),
	}
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error) {
	h := core.HashBytes(data)
	// Copy so later mutation of the caller's slice can't corrupt the store.
	copied := make([]byte, len(data))
	copy(copied, data)
	s.blobs.SetIfAbsent(h, copied)
	return h, nil
}

func (s *MemoryStore) PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error) {
	return pinOne(ctx, hashes, func(ctx context.Context, h core.ContentHash) (bool, error) {
		_, present := s.blobs.Get(h)
		return present, nil
	})
}

func (s *MemoryStore) Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error) {
	data, present := s.blobs.Get(hash)
	if !present {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes a blob; tests use it to simulate eviction.
func (s *MemoryStore) Delete(hash core.ContentHash) {
	s.blobs.Delete(hash)
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	return s.blobs.Len()
}

func (s *MemoryStore) Shutdown() {}
