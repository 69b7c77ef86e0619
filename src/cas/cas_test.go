package cas

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hoard/src/core"
)

var ctx = context.Background()

func TestMemoryPutIfAbsentIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	h1, err := s.PutIfAbsent(ctx, []byte("hello"))
	require.NoError(t, err)
	h2, err := s.PutIfAbsent(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, s.Len(), "identical content must be stored only once")
}

func TestMemoryGetAndPin(t *testing.T) {
	s := NewMemoryStore()
	h, err := s.PutIfAbsent(ctx, []byte("hello"))
	require.NoError(t, err)
	r, err := s.Get(ctx, h)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, []byte("hello"), data)

	missing := core.HashBytes([]byte("not stored"))
	_, err = s.Get(ctx, missing)
	assert.Equal(t, ErrNotFound, err)

	pinned, err := s.PinAll(ctx, []core.ContentHash{h, missing})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, pinned)
}

func TestPinReflectsEviction(t *testing.T) {
	s := NewMemoryStore()
	h, err := s.PutIfAbsent(ctx, []byte("transient"))
	require.NoError(t, err)
	s.Delete(h)
	pinned, err := s.PinAll(ctx, []core.ContentHash{h})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, pinned, "pin must reflect presence at call time")
}

func newTestDirStore(t *testing.T) *DirStore {
	config := core.DefaultConfiguration()
	config.Cache.Dir = t.TempDir()
	s, err := NewDirStore(config)
	require.NoError(t, err)
	return s
}

func TestDirStoreRoundTrip(t *testing.T) {
	s := newTestDirStore(t)
	h, err := s.PutIfAbsent(ctx, []byte("on disk"))
	require.NoError(t, err)
	// Storing again is fine & changes nothing.
	h2, err := s.PutIfAbsent(ctx, []byte("on disk"))
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	r, err := s.Get(ctx, h)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, []byte("on disk"), data)

	pinned, err := s.PinAll(ctx, []core.ContentHash{h, core.HashBytes([]byte("missing"))})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, pinned)
}

func TestDirStoreDelete(t *testing.T) {
	s := newTestDirStore(t)
	h, err := s.PutIfAbsent(ctx, []byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(h))
	_, err = s.Get(ctx, h)
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, s.Delete(h), "deleting a missing blob is a no-op")
}

func TestDirStoreClean(t *testing.T) {
	s := newTestDirStore(t)
	for i := 0; i < 10; i++ {
		_, err := s.PutIfAbsent(ctx, make([]byte, 1000+i))
		require.NoError(t, err)
	}
	size := s.Clean(5000, 3000)
	assert.Less(t, size, uint64(5000))
}

func TestDirStoreConcurrentPutsOfSameContent(t *testing.T) {
	s := newTestDirStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.PutIfAbsent(ctx, []byte("contended blob"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	pinned, err := s.PinAll(ctx, []core.ContentHash{core.HashBytes([]byte("contended blob"))})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, pinned)
}

func TestDirStoreCleanBelowHighWaterMarkIsNoop(t *testing.T) {
	s := newTestDirStore(t)
	h, err := s.PutIfAbsent(ctx, []byte("small"))
	require.NoError(t, err)
	s.Clean(1000000, 1000)
	pinned, err := s.PinAll(ctx, []core.ContentHash{h})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, pinned)
}
