// Content hashing primitives shared across the cache engine.

package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// HashAlgorithm names the digest algorithm used throughout the engine.
// It is recorded in serialised entries so stores can reject mismatched data.
const HashAlgorithm = "sha256"

// HashSize is the size in bytes of all digests we produce.
const HashSize = sha256.Size

// A ContentHash identifies a blob by a digest of its bytes.
// Two blobs with equal hashes are treated as identical content.
type ContentHash [HashSize]byte

// HashBytes returns the ContentHash of the given bytes.
func HashBytes(b []byte) ContentHash {
	return ContentHash(sha256.Sum256(b))
}

// String returns the lowercase hex representation of this hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns true if this is the zero hash, which we never produce for real content.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// ParseContentHash parses a hex-encoded hash as produced by String.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid content hash %s: %s", s, err)
	} else if len(b) != HashSize {
		return h, fmt.Errorf("invalid content hash %s: expected %d bytes, got %d", s, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler, for JSON map keys etc.
func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *ContentHash) UnmarshalText(text []byte) error {
	h2, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*h = h2
	return nil
}

// A hashWriter accumulates canonically framed fields into a digest.
// Every field is written as a tag, a length and the bytes, so that no two
// distinct field sequences can collide by concatenation.
type hashWriter struct {
	h hash.Hash
}

func newHashWriter() *hashWriter {
	return &hashWriter{h: sha256.New()}
}

func (w *hashWriter) WriteField(tag string, data []byte) {
	fmt.Fprintf(w.h, "%s:%d:", tag, len(data))
	w.h.Write(data)
}

func (w *hashWriter) WriteString(tag, s string) {
	w.WriteField(tag, []byte(s))
}

func (w *hashWriter) WriteInt(tag string, i int) {
	w.WriteString(tag, fmt.Sprintf("%d", i))
}

func (w *hashWriter) Sum() ContentHash {
	var h ContentHash
	copy(h[:], w.h.Sum(nil))
	return h
}
