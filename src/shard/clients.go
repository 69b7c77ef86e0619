// Lazy, race-free client provisioning for storage backends.

package shard

import (
	"context"
	"time"

	"github.com/thought-machine/hoard/src/cmap"
	"github.com/thought-machine/hoard/src/core"
)

// A Factory creates the client for a backend location. Creation may involve
// network round trips (fetching credentials, creating the container if it
// does not yet exist) and must honour cancellation of the given context.
type Factory[C any] func(ctx context.Context, backend Backend, loc Location) (C, error)

// A Topology maps sharding keys to locations and owns the process-wide cache
// of backend clients. At most one successful client creation ever happens
// per Location; concurrent callers for the same Location observe the same
// client instance once created.
type Topology[C any] struct {
	scheme    *Scheme
	container string
	factory   Factory[C]
	timeout   time.Duration
	clients   *cmap.Map[Location, C]
	locks     *cmap.MutexSet[Location]
}

// NewTopology creates a topology for clients of the given purpose.
func NewTopology[C any](config *core.Configuration, scheme *Scheme, purpose string, factory Factory[C]) *Topology[C] {
	return &Topology[C]{
		scheme:    scheme,
		container: ContainerName(purpose, config.Storage.Universe, config.Storage.Namespace),
		factory:   factory,
		timeout:   time.Duration(config.Storage.ClientTimeout),
		clients: cmap.New[Location, C](cmap.DefaultShardCount, func(l Location) uint64 {
			return cmap.XXHash(l.Account + "/" + l.Container)
		}),
		locks: cmap.NewMutexSet[Location](),
	}
}

// ResolveLocation maps a sharding key to its Location.
// It is deterministic given the same scheme configuration.
func (t *Topology[C]) ResolveLocation(key string) Location {
	return Location{Account: t.scheme.Resolve(key).Name, Container: t.container}
}

// Client returns the client for the backend owning the given sharding key,
// creating it if this is the first use of that Location.
//
// The fast path is a lock-free-ish cache read. The slow path takes a lock
// specific to this Location, so callers racing on different backends never
// contend with each other, and re-checks the cache under the lock before
// creating. Creation failures (including timeout) are not cached; the next
// caller retries creation rather than replaying the failure.
func (t *Topology[C]) Client(ctx context.Context, key string) (C, error) {
	loc := t.ResolveLocation(key)
	if client, present := t.clients.Get(loc); present {
		return client, nil
	}
	unlock := t.locks.Lock(loc)
	defer unlock()
	if client, present := t.clients.Get(loc); present {
		return client, nil // Someone else created it while we waited.
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	log.Debug("Creating client for %s...", loc)
	client, err := t.factory(ctx, t.scheme.backends[loc.Account], loc)
	if err != nil {
		var zero C
		return zero, err
	}
	t.clients.Set(loc, client)
	return client, nil
}

// Clients returns all currently created clients, for shutdown.
func (t *Topology[C]) Clients() []C {
	return t.clients.Values()
}
