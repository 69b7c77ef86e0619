// HTTP-based blob store. The server exposes blobs at /blob/<hex hash>;
// presence checks are HEAD requests so pinning never transfers content.

package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/thought-machine/hoard/src/core"
)

// A HTTPStore is a Store backed by a remote HTTP server.
type HTTPStore struct {
	url      string
	writable bool
	client   *retryablehttp.Client
}

// NewHTTPStore creates a store for the configured HTTP URL.
func NewHTTPStore(config *core.Configuration) *HTTPStore {
	return newHTTPStore(config.Cache.HTTPURL, config.Cache.HTTPWriteable, time.Duration(config.Cache.HTTPTimeout))
}

func newHTTPStore(url string, writable bool, timeout time.Duration) *HTTPStore {
	client := retryablehttp.NewClient()
	client.Logger = nil // Its logging is far too spammy for our purposes.
	client.HTTPClient.Timeout = timeout
	return &HTTPStore{
		url:      strings.TrimRight(url, "/"),
		writable: writable,
		client:   client,
	}
}

func (s *HTTPStore) PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error) {
	h := core.HashBytes(data)
	if !s.writable {
		return h, nil
	}
	// The server is content-addressed too; skip the upload if it has the blob.
	if present, err := s.contains(ctx, h); err == nil && present {
		return h, nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, s.makeURL(h), bytes.NewReader(data))
	if err != nil {
		return h, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return h, fmt.Errorf("failed to store blob in HTTP cache: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return h, fmt.Errorf("failed to store blob in HTTP cache: status %d", resp.StatusCode)
	}
	return h, nil
}

func (s *HTTPStore) PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error) {
	return pinOne(ctx, hashes, s.contains)
}

func (s *HTTPStore) contains(ctx context.Context, h core.ContentHash) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, s.makeURL(h), nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return true, nil
	} else if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("unexpected status %d checking blob presence", resp.StatusCode)
}

func (s *HTTPStore) Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.makeURL(hash), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	} else if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d retrieving blob", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *HTTPStore) Shutdown() {
	s.client.HTTPClient.CloseIdleConnections()
}

func (s *HTTPStore) makeURL(h core.ContentHash) string {
	return s.url + "/blob/" + h.String()
}
