// Package memo implements the memoization store: the durable association
// from strong fingerprints to the content hash lists they produced, plus the
// per-weak-fingerprint selector index used to navigate to them.
package memo

import (
	"context"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/hoard/src/core"
)

var log = logging.MustGetLogger("memo")

// An AddResult is the outcome of AddOrGet.
type AddResult struct {
	// Conflict is true if the candidate differed from an existing
	// deterministic entry. This is a first-class result, not an error; the
	// existing deterministic value wins and the candidate is discarded,
	// which prevents non-deterministic tool output from corrupting a
	// verified-deterministic record.
	Conflict bool
	// Stored is the list now recorded for the fingerprint: the candidate on
	// acceptance, the pre-existing winner on conflict.
	Stored core.ContentHashList
}

// A Store records cache entries. Implementations must be safe for concurrent
// use; for a given strong fingerprint a race-losing AddOrGet caller observes
// the winner's stored value via the AddResult contract.
type Store interface {
	// GetSelectors returns the selectors recorded for a weak fingerprint,
	// most-recently-used first. Each call returns a fresh snapshot; no
	// cursor state is retained between calls.
	GetSelectors(ctx context.Context, weak core.WeakFingerprint) ([]core.Selector, error)
	// Get returns the entry for a strong fingerprint, if one exists.
	// A missing entry is a normal miss, not an error.
	Get(ctx context.Context, strong core.StrongFingerprint) (core.ContentHashList, bool, error)
	// AddOrGet records candidate for the fingerprint, subject to the
	// determinism overwrite rule: deterministic entries are write-once,
	// non-deterministic entries are last-writer-wins. Entries are never
	// partially updated.
	AddOrGet(ctx context.Context, strong core.StrongFingerprint, candidate core.ContentHashList) (AddResult, error)
	// EnumerateStrongFingerprints streams all recorded strong fingerprints,
	// for maintenance and GC. The channel is closed when exhausted or when
	// the context is cancelled.
	EnumerateStrongFingerprints(ctx context.Context) <-chan core.StrongFingerprint
	// Delete removes the entry for a strong fingerprint, if present.
	// Used by GC when an entry's content has been evicted from the CAS.
	Delete(ctx context.Context, strong core.StrongFingerprint) error
	// Shutdown releases any resources held by the store.
	Shutdown()
}

// NewStore creates the store described by the given config: dir-backed if a
// cache dir is configured, otherwise in-memory.
func NewStore(config *core.Configuration) (Store, error) {
	if config.Cache.Dir != "" {
		return NewDirStore(config.Cache.Dir + "/memo")
	}
	return NewMemoryStore(), nil
}

// provenance identifies this cache instance in CacheDeterministic tags.
var provenance = uuid.New().String()

// NewCacheDeterminism returns a Determinism asserting that this cache
// instance verified the outputs as converged.
func NewCacheDeterminism() core.Determinism {
	return core.Determinism{Kind: core.CacheDeterministic, Provenance: provenance}
}

// resolve applies the determinism overwrite rule to an existing entry and a
// candidate. It returns the result and whether the store should write the
// candidate.
func resolve(existing core.ContentHashList, candidate core.ContentHashList) (AddResult, bool) {
	if existing.Equal(candidate) {
		// Identical content; re-recording it is always fine.
		return AddResult{Stored: candidate}, true
	} else if !existing.Determinism.ShouldReplace(candidate.Determinism) {
		return AddResult{Conflict: true, Stored: existing}, false
	}
	return AddResult{Stored: candidate}, true
}
