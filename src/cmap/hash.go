package cmap

import (
	"github.com/cespare/xxhash/v2"
)

// XXHash calculates xxHash for a string, which is a fast high-quality hash function for a Map.
func XXHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// XXHashBytes calculates xxHash for a byte slice.
func XXHashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}
