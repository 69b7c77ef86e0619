package cas

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hoard/src/core"
)

// failingStore errors on everything, simulating an unavailable backend.
type failingStore struct{}

func (s failingStore) PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error) {
	return core.HashBytes(data), errors.New("backend unavailable")
}

func (s failingStore) PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error) {
	return nil, errors.New("backend unavailable")
}

func (s failingStore) Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error) {
	return nil, errors.New("backend unavailable")
}

func (s failingStore) Shutdown() {}

func replicated(minReplicas int, stores ...Store) Store {
	config := core.DefaultConfiguration()
	config.Storage.MinReplicaCount = minReplicas
	config.Storage.AvailabilityProbability = "0.0"
	return NewReplicatedStore(config, stores...)
}

func TestReplicatedPutWritesAllReplicas(t *testing.T) {
	a, b := NewMemoryStore(), NewMemoryStore()
	s := replicated(1, a, b)
	h, err := s.PutIfAbsent(ctx, []byte("replicate me"))
	require.NoError(t, err)
	for _, replica := range []*MemoryStore{a, b} {
		pinned, err := replica.PinAll(ctx, []core.ContentHash{h})
		require.NoError(t, err)
		assert.Equal(t, []bool{true}, pinned)
	}
}

func TestReplicatedPutToleratesPartialFailure(t *testing.T) {
	a := NewMemoryStore()
	s := replicated(1, a, failingStore{})
	_, err := s.PutIfAbsent(ctx, []byte("degraded"))
	assert.NoError(t, err)
	s = replicated(1, failingStore{}, failingStore{})
	_, err = s.PutIfAbsent(ctx, []byte("dead"))
	assert.Error(t, err, "all replicas failing must surface an error")
}

func TestReplicatedPinRequiresMinReplicas(t *testing.T) {
	a, b := NewMemoryStore(), NewMemoryStore()
	h, err := a.PutIfAbsent(ctx, []byte("only on a"))
	require.NoError(t, err)

	pinned, err := replicated(2, a, b).PinAll(ctx, []core.ContentHash{h})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, pinned, "one confirmation isn't enough for two required replicas")

	_, err = b.PutIfAbsent(ctx, []byte("only on a"))
	require.NoError(t, err)
	pinned, err = replicated(2, a, b).PinAll(ctx, []core.ContentHash{h})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, pinned)
}

func TestReplicatedPinTrustsSingleReplicaWhenConfigured(t *testing.T) {
	a, b := NewMemoryStore(), NewMemoryStore()
	h, err := a.PutIfAbsent(ctx, []byte("only on a"))
	require.NoError(t, err)
	config := core.DefaultConfiguration()
	config.Storage.MinReplicaCount = 2
	config.Storage.AvailabilityProbability = "1.0"
	pinned, err := NewReplicatedStore(config, a, b).PinAll(ctx, []core.ContentHash{h})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, pinned)
}

func TestReplicatedPinWithAllReplicasDown(t *testing.T) {
	_, err := replicated(1, failingStore{}, failingStore{}).PinAll(ctx, []core.ContentHash{core.HashBytes([]byte("x"))})
	assert.Error(t, err, "unknown presence must not be reported as definite absence")
}

func TestReplicatedGetFallsThrough(t *testing.T) {
	a, b := NewMemoryStore(), NewMemoryStore()
	h, err := b.PutIfAbsent(ctx, []byte("only on b"))
	require.NoError(t, err)
	r, err := replicated(1, a, b).Get(ctx, h)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, []byte("only on b"), data)
	_, err = replicated(1, a, b).Get(ctx, core.HashBytes([]byte("nowhere")))
	assert.Equal(t, ErrNotFound, err)
}
