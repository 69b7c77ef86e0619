// Package fingerprint computes the weak and strong fingerprints driving the
// two-phase cache protocol. Everything here is pure computation; nothing in
// this package performs I/O or holds mutable state.
package fingerprint

import (
	"github.com/thought-machine/hoard/src/core"
)

// Version is mixed into every selector as its salt; bumping it invalidates
// all previously recorded strong fingerprints without touching stored data.
const Version = "1"

// An Engine computes fingerprints under a fixed configuration. It is
// immutable after construction and safe for concurrent use.
type Engine struct {
	globalSalt        string
	augmentThreshold  int
	commonalityFactor float64
}

// New creates an Engine from the given configuration.
func New(config *core.Configuration) *Engine {
	return &Engine{
		globalSalt:        config.Fingerprint.GlobalSalt,
		augmentThreshold:  config.Fingerprint.AugmentThreshold,
		commonalityFactor: config.CommonalityFactor(),
	}
}

// Weak computes the weak fingerprint of a pip: a digest of its static
// description and the configured global salt only. Identical inputs always
// produce identical output, independent of machine or time.
func (e *Engine) Weak(pip *core.Pip) core.WeakFingerprint {
	return pip.WeakFingerprint(e.globalSalt)
}

// Selector builds the selector describing one observed path set.
func (e *Engine) Selector(pathSet *core.ObservedPathSet) core.Selector {
	return core.Selector{
		PathSetHash: pathSet.Hash(),
		Salt:        Version,
	}
}

// Strong computes the strong fingerprint of (weak, observed path set).
// An empty path set is valid and yields a fingerprint distinct from any
// non-empty one.
func (e *Engine) Strong(weak core.WeakFingerprint, pathSet *core.ObservedPathSet) core.StrongFingerprint {
	return core.StrongFingerprint{Weak: weak, Selector: e.Selector(pathSet)}
}

// StrongForSelector computes the strong fingerprint for a previously
// recorded selector, as used when walking the selector list during lookup.
func (e *Engine) StrongForSelector(weak core.WeakFingerprint, sel core.Selector) core.StrongFingerprint {
	return core.StrongFingerprint{Weak: weak, Selector: sel}
}
