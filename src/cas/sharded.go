// A sharded store routes each blob to one of several backends via the
// distributed topology, keyed by the blob's content hash.

package cas

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/thought-machine/hoard/src/core"
	"github.com/thought-machine/hoard/src/shard"
)

// blobPurpose tags the containers holding raw blob content.
const blobPurpose = "cas"

type shardedStore struct {
	topology *shard.Topology[Store]
}

// NewShardedStore creates a store distributing blobs across the backends of
// the given scheme. Backend clients are created lazily on first use of each
// location; http(s) URLs get an HTTP store, file URLs or plain paths a dir
// store. An unsupported URL only fails when a key first routes to it.
func NewShardedStore(config *core.Configuration, scheme *shard.Scheme) Store {
	timeout := time.Duration(config.Cache.HTTPTimeout)
	writable := config.Cache.HTTPWriteable
	factory := func(ctx context.Context, backend shard.Backend, loc shard.Location) (Store, error) {
		u, err := url.Parse(backend.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid backend URL %s: %s", backend.URL, err)
		}
		switch u.Scheme {
		case "http", "https":
			return newHTTPStore(backend.URL+"/"+loc.Container, writable, timeout), nil
		case "file", "":
			return newDirStore(u.Path + "/" + loc.Container)
		}
		return nil, fmt.Errorf("unsupported backend URL scheme %s", u.Scheme)
	}
	return &shardedStore{
		topology: shard.NewTopology(config, scheme, blobPurpose, factory),
	}
}

func (s *shardedStore) PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error) {
	h := core.HashBytes(data)
	store, err := s.topology.Client(ctx, h.String())
	if err != nil {
		return h, err
	}
	return store.PutIfAbsent(ctx, data)
}

func (s *shardedStore) PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error) {
	ret := make([]bool, len(hashes))
	for i, h := range hashes {
		store, err := s.topology.Client(ctx, h.String())
		if err != nil {
			return nil, err
		}
		present, err := store.PinAll(ctx, []core.ContentHash{h})
		if err != nil {
			return nil, err
		}
		ret[i] = present[0]
	}
	return ret, nil
}

func (s *shardedStore) Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error) {
	store, err := s.topology.Client(ctx, hash.String())
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, hash)
}

func (s *shardedStore) Shutdown() {
	for _, store := range s.topology.Clients() {
		store.Shutdown()
	}
}
