// Directory-based blob store. Blobs live under a two-level fan-out of their
// hex hash so no single directory grows too large. Eviction is a simple LRU
// over access times, the same scheme the dir cache cleaner uses elsewhere.

package cas

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/djherbis/atime"
	"github.com/dustin/go-humanize"

	"github.com/thought-machine/hoard/src/core"
)

// Period of time in seconds between which two blobs are considered to have the same atime.
const accessTimeGracePeriod = 600 // Ten minutes

// tmpNonce disambiguates temp file names within the process.
var tmpNonce atomic.Int64

// A DirStore is a Store backed by a local directory.
type DirStore struct {
	Dir string
}

// NewDirStore creates a store rooted at the configured cache dir.
// If cleaning is configured it runs in a background goroutine until the
// process exits.
func NewDirStore(config *core.Configuration) (*DirStore, error) {
	s, err := newDirStore(config.Cache.Dir)
	if err != nil {
		return nil, err
	}
	if config.Cache.DirClean {
		go s.Clean(uint64(config.Cache.DirCacheHighWaterMark), uint64(config.Cache.DirCacheLowWaterMark))
	}
	return s, nil
}

func newDirStore(dir string) (*DirStore, error) {
	s := &DirStore{Dir: dir}
	if err := os.MkdirAll(s.Dir, core.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %s", s.Dir, err)
	}
	return s, nil
}

func (s *DirStore) PutIfAbsent(ctx context.Context, data []byte) (core.ContentHash, error) {
	h := core.HashBytes(data)
	dest := s.path(h)
	if _, err := os.Stat(dest); err == nil {
		return h, nil // Already stored; content-addressing makes this a no-op.
	}
	if err := os.MkdirAll(path.Dir(dest), core.DirPermissions); err != nil {
		return h, err
	}
	// Write to a temp file & rename so concurrent readers never see partial content.
	// The nonce keeps goroutines storing the same blob off each other's temp files.
	tmp := fmt.Sprintf("%s=%d-%d", dest, os.Getpid(), tmpNonce.Add(1))
	if err := os.WriteFile(tmp, data, 0444); err != nil {
		return h, err
	} else if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return h, err
	}
	return h, nil
}

func (s *DirStore) PinAll(ctx context.Context, hashes []core.ContentHash) ([]bool, error) {
	return pinOne(ctx, hashes, func(ctx context.Context, h core.ContentHash) (bool, error) {
		_, err := os.Stat(s.path(h))
		if err == nil {
			return true, nil
		} else if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	})
}

func (s *DirStore) Get(ctx context.Context, hash core.ContentHash) (io.ReadCloser, error) {
	f, err := os.Open(s.path(hash))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// Delete removes a blob from the store. Missing blobs are a no-op.
func (s *DirStore) Delete(hash core.ContentHash) error {
	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DirStore) Shutdown() {}

// path returns the file path of a blob, fanned out on the first hash byte.
func (s *DirStore) path(h core.ContentHash) string {
	hex := h.String()
	return path.Join(s.Dir, hex[:2], hex[2:])
}

// A blobEntry represents a single blob file during cleaning.
type blobEntry struct {
	Path  string
	Size  uint64
	Atime int64
}

// Clean trims the store down to lowWaterMark bytes if it currently exceeds
// highWaterMark, removing least-recently-accessed blobs first.
// It returns the total size of the store after it's finished.
func (s *DirStore) Clean(highWaterMark, lowWaterMark uint64) uint64 {
	entries := []blobEntry{}
	var totalSize uint64
	if err := filepath.Walk(s.Dir, func(name string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		size := uint64(info.Size())
		entries = append(entries, blobEntry{
			Path:  name,
			Size:  size,
			Atime: atime.Get(info).Unix(),
		})
		totalSize += size
		return nil
	}); err != nil {
		log.Error("error walking cache directory: %s", err)
		return totalSize
	}
	log.Info("Total cache size: %s", humanize.Bytes(totalSize))
	if totalSize < highWaterMark {
		return totalSize // Nothing to do, cache is small enough.
	}
	// OK, we need to slim it down a bit. Simple LRU on access time; blobs
	// accessed within the grace period of each other evict largest first.
	sort.Slice(entries, func(i, j int) bool {
		diff := entries[i].Atime - entries[j].Atime
		if diff > -accessTimeGracePeriod && diff < accessTimeGracePeriod {
			return entries[i].Size > entries[j].Size
		}
		return entries[i].Atime < entries[j].Atime
	})
	for _, entry := range entries {
		if err := os.Remove(entry.Path); err != nil {
			log.Errorf("Couldn't remove %s: %s", entry.Path, err)
			continue
		}
		log.Debug("Cleaned %s, accessed %s, saves %s", entry.Path, humanize.Time(time.Unix(entry.Atime, 0)), humanize.Bytes(entry.Size))
		totalSize -= entry.Size
		if totalSize < lowWaterMark {
			break
		}
	}
	return totalSize
}
