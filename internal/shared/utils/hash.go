package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher provides hashing for cache keys and bundle verification
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// Hash computes a hex digest of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// SourceKey derives the cache key for a program and the sandbox limits it
// ran under, so a config change never serves a stale trace.
func (h *Hasher) SourceKey(code string, limits ...int) string {
	var sb strings.Builder
	for _, l := range limits {
		fmt.Fprintf(&sb, "%d|", l)
	}
	sb.WriteString(code)
	return h.HashString(sb.String())
}

// Verify compares data against an expected hex digest in constant time.
func (h *Hasher) Verify(data []byte, expected string) error {
	got := h.Hash(data)
	want := strings.ToLower(strings.TrimSpace(expected))
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return fmt.Errorf("digest mismatch: got %s, want %s", got, want)
	}
	return nil
}

// ShortHash returns the first 8 characters of a digest for display
func ShortHash(full string) string {
	if len(full) < 8 {
		return full
	}
	return full[:8]
}
