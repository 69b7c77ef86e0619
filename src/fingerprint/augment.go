// Selector augmentation: when one weak fingerprint accumulates many
// selectors because the pip's dynamic path accesses vary slightly between
// runs, we compute a reduced path set of only the paths common to most of
// them. The augmented strong fingerprint generalises across those shapes,
// trading precision for cache-hit rate.

package fingerprint

import (
	"github.com/thought-machine/hoard/src/core"
)

// Augment computes an augmented path set over the given historical observed
// sets. It returns false if fewer than the configured threshold of sets were
// supplied (or augmentation is disabled), in which case callers should fall
// back to exact selectors.
//
// A path survives into the augmented set if it appears in at least
// commonalityFactor * threshold of the supplied sets. Surviving paths are
// recorded as probes; their content deliberately does not participate in the
// augmented fingerprint.
func (e *Engine) Augment(sets []*core.ObservedPathSet) (*core.ObservedPathSet, bool) {
	if e.augmentThreshold <= 0 || len(sets) < e.augmentThreshold {
		return nil, false
	}
	counts := map[string]int{}
	for _, set := range sets {
		for _, entry := range set.Entries {
			counts[entry.Path]++
		}
	}
	required := int(e.commonalityFactor * float64(e.augmentThreshold))
	if required < 1 {
		required = 1
	}
	entries := []core.ObservedPathEntry{}
	for path, count := range counts {
		if count >= required {
			entries = append(entries, core.ObservedPathEntry{Path: path, Kind: core.PathProbe})
		}
	}
	return core.NewObservedPathSet(entries), true
}

// Reduce projects a live observation onto the probe shape of an augmented
// path set: each augmented path present in the observation survives as a
// probe and observed content is discarded. The result equals the augmented
// set exactly when the observation covers all of its paths, so hashing it
// recovers the augmented strong fingerprint.
func (e *Engine) Reduce(live, augmented *core.ObservedPathSet) *core.ObservedPathSet {
	observed := make(map[string]struct{}, len(live.Entries))
	for _, entry := range live.Entries {
		observed[entry.Path] = struct{}{}
	}
	entries := []core.ObservedPathEntry{}
	for _, entry := range augmented.Entries {
		if _, present := observed[entry.Path]; present {
			entries = append(entries, core.ObservedPathEntry{Path: entry.Path, Kind: core.PathProbe})
		}
	}
	return core.NewObservedPathSet(entries)
}

// AugmentedSelector builds the selector for an augmented path set.
func (e *Engine) AugmentedSelector(pathSet *core.ObservedPathSet) core.Selector {
	return core.Selector{
		PathSetHash: pathSet.Hash(),
		Salt:        Version,
		Augmented:   true,
	}
}
