// Artificial cache miss injection for exercising the non-cached execution
// path in test and validation builds. Whether a pip misses is a pure
// function of (seed, pip identity): the same seed over the same graph always
// produces the same miss set, the inverted set at the same rate and seed is
// the exact complement, and raising the rate only ever adds misses.

package session

import (
	"fmt"
	"math"

	"github.com/thought-machine/hoard/src/cmap"
	"github.com/thought-machine/hoard/src/core"
)

// A MissInjector deterministically forces a fraction of would-be cache hits
// to report a miss. A nil injector never injects.
type MissInjector struct {
	rate   float64
	seed   int64
	invert bool
	forced map[string]struct{}
}

// NewMissInjector creates an injector from config, or nil if neither a rate
// nor forced misses are configured.
func NewMissInjector(config *core.Configuration) *MissInjector {
	rate := config.MissRate()
	if rate == 0 && !config.Miss.Invert && len(config.Miss.Forced) == 0 {
		return nil
	}
	forced := make(map[string]struct{}, len(config.Miss.Forced))
	for _, label := range config.Miss.Forced {
		forced[label] = struct{}{}
	}
	return &MissInjector{
		rate:   rate,
		seed:   config.Miss.Seed,
		invert: config.Miss.Invert,
		forced: forced,
	}
}

// ShouldMiss reports whether a would-be hit for this pip must be overridden
// to a miss.
func (m *MissInjector) ShouldMiss(pip *core.Pip) bool {
	if m == nil {
		return false
	}
	if _, present := m.forced[pip.Label]; present {
		return true
	}
	miss := m.value(pip) < m.rate
	if m.invert {
		return !miss
	}
	return miss
}

// value maps a pip to a stable number in [0,1). Misses being monotonic in
// the rate falls out of this value being fixed for a given seed and pip.
func (m *MissInjector) value(pip *core.Pip) float64 {
	id := pip.SemiStableID()
	h := cmap.XXHash(fmt.Sprintf("%d:%s", m.seed, id))
	return float64(h) / math.MaxUint64
}
