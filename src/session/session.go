// Package session orchestrates the two-phase lookup/publish protocol over
// the fingerprint engine, the memoization store and the content store. A
// Session performs no I/O itself beyond delegating to the stores it was
// given; it does not own them and must not outlive them.
package session

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/hoard/src/cas"
	"github.com/thought-machine/hoard/src/core"
	"github.com/thought-machine/hoard/src/fingerprint"
	"github.com/thought-machine/hoard/src/memo"
	"github.com/thought-machine/hoard/src/metrics"
)

var log = logging.MustGetLogger("session")

// A PathSetProvider resolves the observed path set to check a selector
// against: given the paths of one historical observation, it reports what
// the sandbox observes for them now. It is produced by the external
// sandboxing collaborator and only exists once the pip has executed at
// least once.
type PathSetProvider func(ctx context.Context, sel core.Selector) (*core.ObservedPathSet, error)

// ExactPathSet adapts a single live observation to a PathSetProvider, for
// callers whose observation does not vary by selector.
func ExactPathSet(pathSet *core.ObservedPathSet) PathSetProvider {
	return func(ctx context.Context, sel core.Selector) (*core.ObservedPathSet, error) {
		return pathSet, nil
	}
}

// A Result is the outcome of a lookup.
type Result struct {
	// Hit is true if a usable entry was found with all content pinned.
	Hit bool
	// List is the recorded output content, valid on a hit.
	List core.ContentHashList
	// Strong is the fingerprint that hit, valid on a hit.
	Strong core.StrongFingerprint
	// Injected is true if a would-be hit was overridden by the artificial
	// miss injector.
	Injected bool
}

// Stats counts the outcomes one session has seen.
type Stats struct {
	Lookups        int64
	Hits           int64
	Misses         int64
	InjectedMisses int64
	PinFailures    int64
	Conflicts      int64
}

// A Session is one logical build session's view of the cache.
type Session struct {
	engine   *fingerprint.Engine
	memo     memo.Store
	cas      cas.Store
	injector *MissInjector

	lookups        atomic.Int64
	hits           atomic.Int64
	misses         atomic.Int64
	injectedMisses atomic.Int64
	pinFailures    atomic.Int64
	conflicts      atomic.Int64
}

// New creates a Session over the given stores.
// The stores are long-lived process singletons owned by the caller.
func New(config *core.Configuration, engine *fingerprint.Engine, memoStore memo.Store, casStore cas.Store) *Session {
	return &Session{
		engine:   engine,
		memo:     memoStore,
		cas:      casStore,
		injector: NewMissInjector(config),
	}
}

// Lookup runs the two-phase protocol for a pip: weak fingerprint, selector
// enumeration, then per-selector strong fingerprint, entry fetch and content
// pinning, stopping at the first fully-pinned hit.
//
// A selector whose content has been partially evicted is treated as a miss
// for that selector only; the lookup falls through to the next one rather
// than failing. Backend failures are returned as errors, never converted to
// a miss, since it is then unknown whether content exists.
func (s *Session) Lookup(ctx context.Context, pip *core.Pip, provider PathSetProvider) (Result, error) {
	s.lookups.Add(1)
	weak := s.engine.Weak(pip)
	sels, err := s.memo.GetSelectors(ctx, weak)
	if err != nil {
		return Result{}, err
	}
	for _, sel := range sels {
		pathSet, err := provider(ctx, sel)
		if err != nil {
			return Result{}, err
		} else if pathSet == nil {
			continue // Provider can't observe this selector's paths at all.
		}
		// Fold the live observation into the historical selector's shape; if
		// the observation differs the strong fingerprint simply won't match
		// anything recorded, which is the miss we want. Augmented selectors
		// are keyed over their recorded probe shape, so the observation is
		// projected onto that shape first.
		if sel.Augmented {
			recorded, err := s.readPathSet(ctx, sel.PathSetHash)
			if err != nil {
				log.Debug("Couldn't read augmented path set %s, trying next selector: %s", sel.PathSetHash, err)
				continue
			}
			pathSet = s.engine.Reduce(pathSet, recorded)
		}
		strong := s.engine.StrongForSelector(weak, core.Selector{
			PathSetHash: pathSet.Hash(),
			Salt:        sel.Salt,
			Augmented:   sel.Augmented,
		})
		list, present, err := s.memo.Get(ctx, strong)
		if err != nil {
			return Result{}, err
		} else if !present {
			continue
		}
		pinned, err := s.cas.PinAll(ctx, list.Hashes)
		if err != nil {
			return Result{}, err
		}
		if !allPinned(pinned) {
			// Partial content loss; self-heal by falling through to the next
			// selector instead of surfacing an unusable hit.
			metrics.Record(metrics.PinFailure)
			s.pinFailures.Add(1)
			log.Debug("Content for %s partially evicted, trying next selector", strong)
			continue
		}
		if s.injector.ShouldMiss(pip) {
			metrics.Record(metrics.InjectedMiss)
			s.injectedMisses.Add(1)
			log.Info("Artificially injecting cache miss for %s", pip.Label)
			return Result{Injected: true}, nil
		}
		metrics.Record(metrics.Hit)
		s.hits.Add(1)
		return Result{Hit: true, List: list, Strong: strong}, nil
	}
	metrics.Record(metrics.Miss)
	s.misses.Add(1)
	return Result{}, nil
}

// Publish records the outcome of executing a pip: it stores the output
// blobs, then records the mapping from the strong fingerprint to their
// hashes. A Conflict in the returned AddResult is a non-fatal signal that a
// deterministic entry with different content already existed; the stored
// value in the result is the one callers should trust for reproducibility.
func (s *Session) Publish(ctx context.Context, pip *core.Pip, pathSet *core.ObservedPathSet, outputs [][]byte, determinism core.Determinism) (memo.AddResult, error) {
	hashes := make([]core.ContentHash, len(outputs))
	errs := make([]error, len(outputs)+1)
	var g errgroup.Group
	for i, output := range outputs {
		i, output := i, output
		g.Go(func() error {
			h, err := s.cas.PutIfAbsent(ctx, output)
			hashes[i] = h
			errs[i] = err
			return nil
		})
	}
	// Store the observed path set itself too, keyed by the selector's hash,
	// so augmentation can read historical shapes back later.
	g.Go(func() error {
		data, err := pathSet.Marshal()
		if err == nil {
			_, err = s.cas.PutIfAbsent(ctx, data)
		}
		errs[len(outputs)] = err
		return nil
	})
	g.Wait()
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return memo.AddResult{}, err
	}
	weak := s.engine.Weak(pip)
	strong := s.engine.Strong(weak, pathSet)
	result, err := s.memo.AddOrGet(ctx, strong, core.ContentHashList{Hashes: hashes, Determinism: determinism})
	if err != nil {
		return result, err
	}
	if result.Conflict {
		metrics.Record(metrics.Conflict)
		s.conflicts.Add(1)
		log.Warning("Recorded value for %s differs from computed value; keeping the deterministic record", strong)
	}
	s.maybeAugment(ctx, weak, result.Stored)
	return result, nil
}

// Stats returns a snapshot of this session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		Lookups:        s.lookups.Load(),
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		InjectedMisses: s.injectedMisses.Load(),
		PinFailures:    s.pinFailures.Load(),
		Conflicts:      s.conflicts.Load(),
	}
}

// Shutdown logs this session's totals. The underlying stores are owned by
// the process and are not shut down here.
func (s *Session) Shutdown() {
	stats := s.Stats()
	log.Info("Session finished: %d lookups, %d hits, %d misses (%d injected)", stats.Lookups, stats.Hits, stats.Misses, stats.InjectedMisses)
}

func allPinned(pinned []bool) bool {
	for _, p := range pinned {
		if !p {
			return false
		}
	}
	return true
}
