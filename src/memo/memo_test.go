package memo

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hoard/src/core"
)

var ctx = context.Background()

var weak = core.WeakFingerprint(core.HashBytes([]byte("a pip")))

func strongFor(pathSetContent string) core.StrongFingerprint {
	return core.StrongFingerprint{
		Weak:     weak,
		Selector: core.Selector{PathSetHash: core.HashBytes([]byte(pathSetContent)), Salt: "1"},
	}
}

func listOf(tag core.DeterminismKind, contents ...string) core.ContentHashList {
	hashes := make([]core.ContentHash, len(contents))
	for i, c := range contents {
		hashes[i] = core.HashBytes([]byte(c))
	}
	return core.ContentHashList{Hashes: hashes, Determinism: core.Determinism{Kind: tag}}
}

// Both implementations must satisfy the same contract.
func stores(t *testing.T) map[string]Store {
	dir, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"dir":    dir,
	}
}

func TestAddOrGetNewEntry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			result, err := store.AddOrGet(ctx, strongFor("s1"), listOf(core.ToolDeterministic, "out1"))
			require.NoError(t, err)
			assert.False(t, result.Conflict)
			assert.True(t, result.Stored.Equal(listOf(core.ToolDeterministic, "out1")))

			list, present, err := store.Get(ctx, strongFor("s1"))
			require.NoError(t, err)
			assert.True(t, present)
			assert.True(t, list.Equal(result.Stored))
		})
	}
}

func TestGetMissIsNotAnError(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, present, err := store.Get(ctx, strongFor("never published"))
			assert.NoError(t, err)
			assert.False(t, present)
		})
	}
}

func TestDeterministicEntriesAreWriteOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			original := listOf(core.ToolDeterministic, "out1")
			_, err := store.AddOrGet(ctx, strongFor("s1"), original)
			require.NoError(t, err)

			// A different list must conflict & leave the original intact.
			result, err := store.AddOrGet(ctx, strongFor("s1"), listOf(core.SinglePhaseNonDeterministic, "different"))
			require.NoError(t, err)
			assert.True(t, result.Conflict)
			assert.True(t, result.Stored.Equal(original))
			list, _, err := store.Get(ctx, strongFor("s1"))
			require.NoError(t, err)
			assert.True(t, list.Equal(original))

			// Re-publishing the identical list is accepted.
			result, err = store.AddOrGet(ctx, strongFor("s1"), original)
			require.NoError(t, err)
			assert.False(t, result.Conflict)
		})
	}
}

func TestNonDeterministicEntriesAreLastWriterWins(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AddOrGet(ctx, strongFor("s1"), listOf(core.SinglePhaseNonDeterministic, "first"))
			require.NoError(t, err)
			result, err := store.AddOrGet(ctx, strongFor("s1"), listOf(core.ToolDeterministic, "second"))
			require.NoError(t, err)
			assert.False(t, result.Conflict)
			list, _, err := store.Get(ctx, strongFor("s1"))
			require.NoError(t, err)
			assert.True(t, list.Equal(listOf(core.ToolDeterministic, "second")))
		})
	}
}

func TestSelectorsAreMostRecentFirst(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AddOrGet(ctx, strongFor("older"), listOf(core.ToolDeterministic, "out1"))
			require.NoError(t, err)
			_, err = store.AddOrGet(ctx, strongFor("newer"), listOf(core.ToolDeterministic, "out2"))
			require.NoError(t, err)

			sels, err := store.GetSelectors(ctx, weak)
			require.NoError(t, err)
			require.Len(t, sels, 2)
			assert.Equal(t, strongFor("newer").Selector, sels[0])
			assert.Equal(t, strongFor("older").Selector, sels[1])

			// Re-recording the older one bumps it back to the front.
			_, err = store.AddOrGet(ctx, strongFor("older"), listOf(core.ToolDeterministic, "out1"))
			require.NoError(t, err)
			sels, err = store.GetSelectors(ctx, weak)
			require.NoError(t, err)
			require.Len(t, sels, 2)
			assert.Equal(t, strongFor("older").Selector, sels[0])
		})
	}
}

func TestGetSelectorsIsRestartable(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AddOrGet(ctx, strongFor("s1"), listOf(core.ToolDeterministic, "out"))
			require.NoError(t, err)
			first, err := store.GetSelectors(ctx, weak)
			require.NoError(t, err)
			_, err = store.AddOrGet(ctx, strongFor("s2"), listOf(core.ToolDeterministic, "out"))
			require.NoError(t, err)
			second, err := store.GetSelectors(ctx, weak)
			require.NoError(t, err)
			assert.Len(t, first, 1, "earlier snapshot is unaffected")
			assert.Len(t, second, 2, "re-querying yields a fresh snapshot")
		})
	}
}

func TestEnumerateStrongFingerprints(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			published := map[string]bool{}
			for _, s := range []string{"s1", "s2", "s3"} {
				_, err := store.AddOrGet(ctx, strongFor(s), listOf(core.ToolDeterministic, "out"))
				require.NoError(t, err)
				published[strongFor(s).String()] = true
			}
			seen := map[string]bool{}
			for strong := range store.EnumerateStrongFingerprints(ctx) {
				seen[strong.String()] = true
			}
			assert.Equal(t, published, seen)
		})
	}
}

func TestEnumerateStopsOnCancel(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, s := range []string{"s1", "s2", "s3", "s4", "s5"} {
				_, err := store.AddOrGet(ctx, strongFor(s), listOf(core.ToolDeterministic, "out"))
				require.NoError(t, err)
			}
			cctx, cancel := context.WithCancel(ctx)
			ch := store.EnumerateStrongFingerprints(cctx)
			<-ch
			cancel()
			// The producer must close the channel rather than block forever
			// on its next send.
			for range ch {
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AddOrGet(ctx, strongFor("s1"), listOf(core.ToolDeterministic, "out"))
			require.NoError(t, err)
			require.NoError(t, store.Delete(ctx, strongFor("s1")))
			_, present, err := store.Get(ctx, strongFor("s1"))
			require.NoError(t, err)
			assert.False(t, present)
			assert.NoError(t, store.Delete(ctx, strongFor("s1")), "deleting twice is fine")
		})
	}
}

func TestDirStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	_, err = store.AddOrGet(ctx, strongFor("s1"), listOf(core.ToolDeterministic, "out1", "out2"))
	require.NoError(t, err)
	store.Shutdown()

	reopened, err := NewDirStore(dir)
	require.NoError(t, err)
	list, present, err := reopened.Get(ctx, strongFor("s1"))
	require.NoError(t, err)
	require.True(t, present)
	assert.True(t, list.Equal(listOf(core.ToolDeterministic, "out1", "out2")))
	sels, err := reopened.GetSelectors(ctx, weak)
	require.NoError(t, err)
	assert.Len(t, sels, 1)
}

func TestConcurrentAddOrGetIsSafe(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddOrGet(ctx, strongFor("contended"), listOf(core.ToolDeterministic, "the outputs"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	list, present, err := store.Get(ctx, strongFor("contended"))
	require.NoError(t, err)
	require.True(t, present)
	assert.True(t, list.Equal(listOf(core.ToolDeterministic, "the outputs")))
	sels, err := store.GetSelectors(ctx, weak)
	require.NoError(t, err)
	assert.Len(t, sels, 1, "racing identical publishes record one selector")
}

func TestCacheDeterminismCarriesProvenance(t *testing.T) {
	d := NewCacheDeterminism()
	assert.Equal(t, core.CacheDeterministic, d.Kind)
	assert.NotEmpty(t, d.Provenance)
	assert.Equal(t, d.Provenance, NewCacheDeterminism().Provenance, "one provenance per cache instance")
}
