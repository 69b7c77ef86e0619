// Fingerprint types for the two-phase cache lookup protocol.
//
// A weak fingerprint covers only the static description of a pip; a strong
// fingerprint additionally covers the shape of the paths the pip actually
// accessed when it ran. One weak fingerprint therefore maps to many possible
// strong fingerprints, navigated via selectors.

package core

// A WeakFingerprint is a digest of a pip's static description.
// It is stable across machines and process restarts.
type WeakFingerprint ContentHash

// String returns the hex representation of this fingerprint.
func (w WeakFingerprint) String() string {
	return ContentHash(w).String()
}

// MarshalText implements encoding.TextMarshaler.
func (w WeakFingerprint) MarshalText() ([]byte, error) {
	return ContentHash(w).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WeakFingerprint) UnmarshalText(text []byte) error {
	return (*ContentHash)(w).UnmarshalText(text)
}

// A Selector associates one historical observed-path-set shape with a weak
// fingerprint. Multiple selectors may exist per weak fingerprint; stores
// enumerate them most-recently-used first.
type Selector struct {
	// PathSetHash is the content hash of the canonical serialisation of the
	// observed path set; the serialised set itself is stored in the CAS under
	// this hash so it can be re-read later (e.g. for augmentation).
	PathSetHash ContentHash `json:"path_set_hash"`
	// Salt distinguishes otherwise-identical selectors, e.g. between cache
	// format generations.
	Salt string `json:"salt,omitempty"`
	// Augmented marks selectors whose path set is a commonality projection
	// over many historical sets rather than one exact observation.
	Augmented bool `json:"augmented,omitempty"`
}

// A StrongFingerprint identifies one historical execution's exact input
// shape: the weak fingerprint plus one selector.
type StrongFingerprint struct {
	Weak     WeakFingerprint `json:"weak"`
	Selector Selector        `json:"selector"`
}

// Hash returns the digest under which this strong fingerprint is keyed.
// An empty observed path set is valid and produces a well-defined digest
// distinct from any non-empty one.
func (s StrongFingerprint) Hash() ContentHash {
	w := newHashWriter()
	w.WriteField("weak", s.Weak[:])
	w.WriteField("pathset", s.Selector.PathSetHash[:])
	w.WriteString("salt", s.Selector.Salt)
	if s.Selector.Augmented {
		w.WriteString("augmented", "1")
	}
	return w.Sum()
}

// String returns the hex digest of this strong fingerprint.
func (s StrongFingerprint) String() string {
	return s.Hash().String()
}

// Determinism classifies how a content hash list was produced, which governs
// whether a later publish may overwrite it.
type Determinism struct {
	// Kind is one of the DeterminismKind constants below.
	Kind DeterminismKind `json:"kind"`
	// Provenance identifies which cache instance asserted determinism, for
	// CacheDeterministic entries. Empty otherwise.
	Provenance string `json:"provenance,omitempty"`
}

// A DeterminismKind is the tag of a Determinism value.
type DeterminismKind string

const (
	// ToolDeterministic means the tool that produced the outputs is known to
	// be deterministic; the recorded list is write-once.
	ToolDeterministic DeterminismKind = "tool"
	// CacheDeterministic means a cache with the given provenance verified the
	// outputs as converged; also write-once against differing candidates.
	CacheDeterministic DeterminismKind = "cache"
	// SinglePhaseNonDeterministic means the outputs carry no determinism
	// guarantee; last writer wins.
	SinglePhaseNonDeterministic DeterminismKind = "none"
)

// IsDeterministic returns true if entries with this tag are write-once.
func (d Determinism) IsDeterministic() bool {
	return d.Kind == ToolDeterministic || d.Kind == CacheDeterministic
}

// ShouldReplace returns true if a stored entry with determinism d may be
// overwritten by a candidate carrying determinism other and a differing hash
// list. Deterministic entries are write-once; non-deterministic entries are
// last-writer-wins. This is the one place the overwrite rule is decided.
func (d Determinism) ShouldReplace(other Determinism) bool {
	return !d.IsDeterministic()
}

// A ContentHashList records the outputs of one execution, one hash per
// declared output in declaration order, tagged with how deterministic the
// producing tool is believed to be.
type ContentHashList struct {
	Hashes      []ContentHash `json:"hashes"`
	Determinism Determinism   `json:"determinism"`
}

// Equal returns true if the two lists reference identical content in the
// same order. Determinism tags are not compared.
func (c ContentHashList) Equal(other ContentHashList) bool {
	if len(c.Hashes) != len(other.Hashes) {
		return false
	}
	for i, h := range c.Hashes {
		if h != other.Hashes[i] {
			return false
		}
	}
	return true
}
