// A replicated store multiplexes several blob stores into one, writing to
// all of them and requiring agreement from a configurable number of replicas
// before trusting a pin result.

package cas

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/thought-machine/hoard/src/core"
)

type replicatedStore struct {
	stores      []Store
	minReplicas int
	// availability is the configured probability that a single replica's
	// positive pin answer is trusted without consulting the others.
	availability float64
	rand         *rand.Rand
	mutex        sync.Mutex
}

// NewReplicatedStore combines several stores into one.
func NewReplicatedStore(config *core.Configuration, stores ...Store) Store {
	return &replicatedStore{
		stores:       stores,
		minReplicas:  config.Storage.MinReplicaCount,
		availability: config.AvailabilityProbability(),
		rand:         rand.New(rand.NewSource(config.Miss.Seed)),
	}
}

// PutIfAbsent stores on all replicas simultaneously.
// It fails only if no replica accepted the blob; a partially unavailable
// topology degrades to fewer replicas rather than failing the publish.
func (s *replicatedStore) PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error) {
	h := core.HashBytes(data)
	var g errgroup.Group
	errs := make([]error, len(s.stores))
	for i, store := range s.stores {
		i, store := i, store
		g.Go(func() error {
			_, err := store.PutIfAbsent(ctx, data)
			errs[i] = err
			return nil
		})
	}
	g.Wait()
	var merr *multierror.Error
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			merr = multierror.Append(merr, err)
			log.Warning("Failed to store blob %s in replica %d: %s", h, i, err)
		}
	}
	if failed == len(s.stores) {
		return h, merr.ErrorOrNil()
	}
	return h, nil
}

// PinAll consults replicas in order until enough confirm each hash.
// A hash counts as present once minReplicas replicas (or all of them, if
// there are fewer) have confirmed it, except that with the configured
// availability probability the first confirmation is trusted directly.
func (s *replicatedStore) PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error) {
	required := s.minReplicas
	if required > len(s.stores) {
		required = len(s.stores)
	}
	if s.trustSingleReplica() {
		required = 1
	}
	counts := make([]int, len(hashes))
	ret := make([]bool, len(hashes))
	var merr *multierror.Error
	errored := 0
	for _, store := range s.stores {
		present, err := store.PinAll(ctx, hashes)
		if err != nil {
			merr = multierror.Append(merr, err)
			errored++
			continue
		}
		done := true
		for i := range hashes {
			if present[i] {
				counts[i]++
				ret[i] = counts[i] >= required
			}
			if !ret[i] {
				done = false
			}
		}
		if done {
			return ret, nil
		}
	}
	// If every replica errored we genuinely don't know; say so rather than
	// reporting definite absence.
	if errored == len(s.stores) {
		return nil, merr.ErrorOrNil()
	}
	return ret, nil
}

func (s *replicatedStore) trustSingleReplica() bool {
	if s.availability >= 1.0 {
		return true
	} else if s.availability <= 0.0 {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.rand.Float64() < s.availability
}

func (s *replicatedStore) Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error) {
	var lastErr error = ErrNotFound
	for _, store := range s.stores {
		r, err := store.Get(ctx, hash)
		if err == nil {
			return r, nil
		} else if err != ErrNotFound {
			lastErr = err
		}
	}
	return nil, lastErr
}

func (s *replicatedStore) Shutdown() {
	for _, store := range s.stores {
		store.Shutdown()
	}
}
