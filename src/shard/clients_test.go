package shard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thought-machine/hoard/src/cli"
)

type fakeClient struct {
	Location Location
}

func TestConcurrentClientsCreateOnce(t *testing.T) {
	config := testConfig("a=http://one")
	scheme, err := NewScheme(config)
	require.NoError(t, err)
	var creations int64
	topo := NewTopology(config, scheme, "cas", func(ctx context.Context, backend Backend, loc Location) (*fakeClient, error) {
		atomic.AddInt64(&creations, 1)
		time.Sleep(10 * time.Millisecond) // Encourage the racers to pile up.
		return &fakeClient{Location: loc}, nil
	})

	const n = 20
	clients := make([]*fakeClient, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client, err := topo.Client(context.Background(), "the key")
			assert.NoError(t, err)
			clients[i] = client
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, creations, "exactly one creation side effect")
	for i := 1; i < n; i++ {
		assert.Same(t, clients[0], clients[i], "all callers observe the same client instance")
	}
}

func TestFailedCreationIsNotCached(t *testing.T) {
	config := testConfig("a=http://one")
	scheme, err := NewScheme(config)
	require.NoError(t, err)
	attempts := 0
	topo := NewTopology(config, scheme, "cas", func(ctx context.Context, backend Backend, loc Location) (*fakeClient, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient backend error")
		}
		return &fakeClient{Location: loc}, nil
	})
	_, err = topo.Client(context.Background(), "key")
	assert.Error(t, err)
	client, err := topo.Client(context.Background(), "key")
	assert.NoError(t, err, "the next call retries creation rather than replaying the failure")
	assert.NotNil(t, client)
	assert.Equal(t, 2, attempts)
}

func TestCreationTimeout(t *testing.T) {
	config := testConfig("a=http://one")
	config.Storage.ClientTimeout = cli.Duration(10 * time.Millisecond)
	scheme, err := NewScheme(config)
	require.NoError(t, err)
	topo := NewTopology(config, scheme, "cas", func(ctx context.Context, backend Backend, loc Location) (*fakeClient, error) {
		select {
		case <-time.After(time.Second):
			return &fakeClient{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	_, err = topo.Client(context.Background(), "key")
	assert.Error(t, err)
	assert.Empty(t, topo.Clients(), "a timed-out creation must not leave a cached client")
}

func TestDifferentKeysSameBackendShareClient(t *testing.T) {
	config := testConfig("a=http://one")
	scheme, err := NewScheme(config)
	require.NoError(t, err)
	topo := NewTopology(config, scheme, "cas", func(ctx context.Context, backend Backend, loc Location) (*fakeClient, error) {
		return &fakeClient{Location: loc}, nil
	})
	c1, err := topo.Client(context.Background(), "key one")
	require.NoError(t, err)
	c2, err := topo.Client(context.Background(), "key two")
	require.NoError(t, err)
	assert.Same(t, c1, c2, "one backend means one location & one client")
}

func TestResolveLocationUsesContainerName(t *testing.T) {
	config := testConfig("a=http://one")
	config.Storage.Universe = "u"
	config.Storage.Namespace = "n"
	scheme, err := NewScheme(config)
	require.NoError(t, err)
	topo := NewTopology(config, scheme, "cas", func(ctx context.Context, backend Backend, loc Location) (*fakeClient, error) {
		return &fakeClient{}, nil
	})
	loc := topo.ResolveLocation("any key")
	assert.Equal(t, "a", loc.Account)
	assert.Equal(t, ContainerName("cas", "u", "n"), loc.Container)
}
