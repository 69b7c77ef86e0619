// Directory-backed memoization store. One JSON file per entry under a
// two-level fan-out of the strong fingerprint digest, plus one selector
// index file per weak fingerprint. Files are written to a temp name and
// renamed so readers never observe partial updates.

package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/thought-machine/hoard/src/cmap"
	"github.com/thought-machine/hoard/src/core"
)

type dirStore struct {
	root     string
	locks    *cmap.MutexSet[string]
	selLocks *cmap.MutexSet[string]
}

// A dirEntry is the serialised form of one recorded cache entry.
type dirEntry struct {
	Strong core.StrongFingerprint `json:"strong"`
	List   core.ContentHashList   `json:"list"`
}

// NewDirStore creates a store rooted at the given directory.
func NewDirStore(root string) (Store, error) {
	for _, dir := range []string{path.Join(root, "entries"), path.Join(root, "selectors")} {
		if err := os.MkdirAll(dir, core.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create memo directory %s: %s", dir, err)
		}
	}
	return &dirStore{
		root:     root,
		locks:    cmap.NewMutexSet[string](),
		selLocks: cmap.NewMutexSet[string](),
	}, nil
}

func (s *dirStore) GetSelectors(ctx context.Context, weak core.WeakFingerprint) ([]core.Selector, error) {
	sels := []core.Selector{}
	data, err := os.ReadFile(s.selectorPath(weak))
	if os.IsNotExist(err) {
		return sels, nil
	} else if err != nil {
		return nil, err
	} else if err := json.Unmarshal(data, &sels); err != nil {
		return nil, fmt.Errorf("corrupt selector index for %s: %s", weak, err)
	}
	return sels, nil
}

func (s *dirStore) Get(ctx context.Context, strong core.StrongFingerprint) (core.ContentHashList, bool, error) {
	e, err := s.readEntry(s.entryPath(strong.Hash()))
	if os.IsNotExist(err) {
		return core.ContentHashList{}, false, nil
	} else if err != nil {
		return core.ContentHashList{}, false, err
	}
	return e.List, true, nil
}

func (s *dirStore) AddOrGet(ctx context.Context, strong core.StrongFingerprint, candidate core.ContentHashList) (AddResult, error) {
	filename := s.entryPath(strong.Hash())
	unlock := s.locks.Lock(filename)
	defer unlock()
	existing, err := s.readEntry(filename)
	if err != nil && !os.IsNotExist(err) {
		return AddResult{}, err
	} else if err == nil {
		result, write := resolve(existing.List, candidate)
		if write {
			if err := s.writeEntry(filename, dirEntry{Strong: strong, List: candidate}); err != nil {
				return AddResult{}, err
			}
		}
		if err := s.recordSelector(strong); err != nil {
			return AddResult{}, err
		}
		return result, nil
	}
	if err := s.writeEntry(filename, dirEntry{Strong: strong, List: candidate}); err != nil {
		return AddResult{}, err
	}
	if err := s.recordSelector(strong); err != nil {
		return AddResult{}, err
	}
	return AddResult{Stored: candidate}, nil
}

func (s *dirStore) recordSelector(strong core.StrongFingerprint) error {
	filename := s.selectorPath(strong.Weak)
	unlock := s.selLocks.Lock(filename)
	defer unlock()
	sels := []core.Selector{}
	if data, err := os.ReadFile(filename); err == nil {
		if err := json.Unmarshal(data, &sels); err != nil {
			log.Warning("Discarding corrupt selector index %s: %s", filename, err)
			sels = nil
		}
	}
	updated := []core.Selector{strong.Selector}
	for _, sel := range sels {
		if sel != strong.Selector {
			updated = append(updated, sel)
		}
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	return atomicWrite(filename, data)
}

func (s *dirStore) EnumerateStrongFingerprints(ctx context.Context) <-chan core.StrongFingerprint {
	ch := make(chan core.StrongFingerprint)
	go func() {
		defer close(ch)
		filepath.Walk(path.Join(s.root, "entries"), func(name string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(name, ".json") {
				return err
			}
			e, err := s.readEntry(name)
			if err != nil {
				log.Warning("Skipping unreadable memo entry %s: %s", name, err)
				return nil
			}
			select {
			case ch <- e.Strong:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return ch
}

func (s *dirStore) Delete(ctx context.Context, strong core.StrongFingerprint) error {
	filename := s.entryPath(strong.Hash())
	unlock := s.locks.Lock(filename)
	defer unlock()
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *dirStore) Shutdown() {}

func (s *dirStore) readEntry(filename string) (dirEntry, error) {
	e := dirEntry{}
	data, err := os.ReadFile(filename)
	if err != nil {
		return e, err
	} else if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("corrupt memo entry %s: %s", filename, err)
	}
	return e, nil
}

func (s *dirStore) writeEntry(filename string, e dirEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return atomicWrite(filename, data)
}

func (s *dirStore) entryPath(digest core.ContentHash) string {
	hex := digest.String()
	return path.Join(s.root, "entries", hex[:2], hex[2:]+".json")
}

func (s *dirStore) selectorPath(weak core.WeakFingerprint) string {
	hex := core.ContentHash(weak).String()
	return path.Join(s.root, "selectors", hex[:2], hex[2:]+".json")
}

func atomicWrite(filename string, data []byte) error {
	if err := os.MkdirAll(path.Dir(filename), core.DirPermissions); err != nil {
		return err
	}
	tmp := filename + fmt.Sprintf("=%d", os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	} else if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
