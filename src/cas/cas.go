// Package cas implements the content-addressable blob store: immutable byte
// blobs keyed by their content hash, with deduplication on write and
// existence verification ("pinning") without transferring bytes.
package cas

import (
	"context"
	"errors"
	"io"

	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/hoard/src/core"
	"github.com/thought-machine/hoard/src/shard"
)

var log = logging.MustGetLogger("cas")

// ErrNotFound is returned by Get when no blob exists for a hash.
// It indicates definite absence, as opposed to a backend failure where
// presence is unknown.
var ErrNotFound = errors.New("content not found")

// A Store stores and retrieves immutable blobs by content hash.
// Implementations must be safe for concurrent use.
type Store interface {
	// PutIfAbsent stores the blob if it is not already present and returns
	// its content hash. It is idempotent.
	PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error)
	// PinAll verifies presence of each hash without transferring content.
	// The result must reflect presence at call time; a recorded hash list may
	// reference blobs that were since evicted. An error means presence could
	// not be determined, not that content is absent.
	PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error)
	// Get returns a reader over the blob's bytes, or ErrNotFound.
	Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error)
	// Shutdown releases any resources held by the store.
	Shutdown()
}

// NewStore creates the store described by the given config: the local dir
// store, plus the HTTP store and the sharded topology if configured,
// combined into a replicated store when there is more than one.
func NewStore(config *core.Configuration) (Store, error) {
	stores := []Store{}
	if config.Cache.Dir != "" {
		dir, err := NewDirStore(config)
		if err != nil {
			return nil, err
		}
		stores = append(stores, dir)
	}
	if config.Cache.HTTPURL != "" {
		stores = append(stores, NewHTTPStore(config))
	}
	if len(config.Storage.Backend) > 0 {
		scheme, err := shard.NewScheme(config)
		if err != nil {
			return nil, err
		}
		stores = append(stores, NewShardedStore(config, scheme))
	}
	if len(stores) == 0 {
		return NewMemoryStore(), nil
	} else if len(stores) == 1 {
		return stores[0], nil // Skip the extra layer of indirection
	}
	return NewReplicatedStore(config, stores...), nil
}

// pinOne adapts a single-hash presence check to the PinAll contract.
func pinOne(ctx context.Context, hashes []core.ContentHash, check func(context.Context, core.ContentHash) (bool, error)) ([]bool, error) {
	ret := make([]bool, len(hashes))
	for i, h := range hashes {
		present, err := check(ctx, h)
		if err != nil {
			return nil, err
		}
		ret[i] = present
	}
	return ret, nil
}
