// Selector augmentation at publish time: once a weak fingerprint has
// accumulated enough distinct selectors, record one extra entry under an
// augmented selector covering the paths common to most of them.

package session

import (
	"context"
	"io"

	"github.com/thought-machine/hoard/src/core"
)

func (s *Session) maybeAugment(ctx context.Context, weak core.WeakFingerprint, list core.ContentHashList) {
	sels, err := s.memo.GetSelectors(ctx, weak)
	if err != nil {
		log.Warning("Failed to enumerate selectors for augmentation: %s", err)
		return
	}
	sets := []*core.ObservedPathSet{}
	for _, sel := range sels {
		if sel.Augmented {
			continue // Don't augment the augmented.
		}
		set, err := s.readPathSet(ctx, sel.PathSetHash)
		if err != nil {
			// Historical sets may have been evicted; augmentation just works
			// with whatever is still readable.
			log.Debug("Couldn't read path set %s for augmentation: %s", sel.PathSetHash, err)
			continue
		}
		sets = append(sets, set)
	}
	augmented, ok := s.engine.Augment(sets)
	if !ok {
		return
	}
	data, err := augmented.Marshal()
	if err != nil {
		log.Warning("Failed to serialise augmented path set: %s", err)
		return
	}
	if _, err := s.cas.PutIfAbsent(ctx, data); err != nil {
		log.Warning("Failed to store augmented path set: %s", err)
		return
	}
	strong := core.StrongFingerprint{Weak: weak, Selector: s.engine.AugmentedSelector(augmented)}
	if _, err := s.memo.AddOrGet(ctx, strong, list); err != nil {
		log.Warning("Failed to record augmented entry for %s: %s", weak, err)
		return
	}
	log.Debug("Recorded augmented selector for %s over %d path sets", weak, len(sets))
}

func (s *Session) readPathSet(ctx context.Context, hash core.ContentHash) (*core.ObservedPathSet, error) {
	r, err := s.cas.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return core.UnmarshalObservedPathSet(data)
}
