// Observed path sets: the dynamically-discovered inputs of one pip execution.

package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// A PathKind classifies what the sandbox observed at a path.
type PathKind string

const (
	// PathFile is a regular file that was read; Hash holds its content hash.
	PathFile PathKind = "file"
	// PathDirectory is a directory that was enumerated.
	PathDirectory PathKind = "dir"
	// PathAbsent is a path that was probed and found not to exist.
	PathAbsent PathKind = "absent"
	// PathProbe is a path whose existence was checked but whose content was
	// never read; only its presence participates in the fingerprint.
	PathProbe PathKind = "probe"
)

// An ObservedPathEntry is one path the sandbox saw a pip touch, with the
// classification of what was observed there.
type ObservedPathEntry struct {
	Path string   `json:"path"`
	Kind PathKind `json:"kind"`
	// Hash is the content hash for PathFile entries and zero otherwise.
	Hash ContentHash `json:"hash,omitempty"`
}

// An ObservedPathSet is the ordered set of paths one execution touched.
// Entries are kept sorted by path so serialisation is canonical.
type ObservedPathSet struct {
	Entries []ObservedPathEntry `json:"entries"`
}

// NewObservedPathSet returns a set over the given entries, sorted and
// deduplicated by path (last entry for a path wins, matching the sandbox
// reporting the final state it saw).
func NewObservedPathSet(entries []ObservedPathEntry) *ObservedPathSet {
	byPath := make(map[string]ObservedPathEntry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}
	sorted := make([]ObservedPathEntry, 0, len(byPath))
	for _, e := range byPath {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return &ObservedPathSet{Entries: sorted}
}

// Hash returns the content hash of the canonical serialisation of this set,
// i.e. the hash under which Marshal()'s bytes live in the CAS.
// The empty set hashes to a well-defined value distinct from any non-empty set.
func (s *ObservedPathSet) Hash() ContentHash {
	b, err := s.Marshal()
	if err != nil {
		// Marshalling a struct of strings cannot fail; treat it as a defect.
		panic(err)
	}
	return HashBytes(b)
}

// Marshal returns the canonical serialised form of this set. Entries are
// sorted so identical sets marshal to identical bytes, which keeps Hash()
// stable across machines.
func (s *ObservedPathSet) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalObservedPathSet is the inverse of Marshal. It re-sorts entries so
// hand-edited or older data still hashes canonically.
func UnmarshalObservedPathSet(data []byte) (*ObservedPathSet, error) {
	set := &ObservedPathSet{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("invalid observed path set: %s", err)
	}
	return NewObservedPathSet(set.Entries), nil
}
