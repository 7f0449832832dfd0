// Package sha256 provides the content hash used for page change detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultMaxChars bounds how much normalized text contributes to a content hash.
const DefaultMaxChars = 20000

// Hasher computes SHA-256 digests of normalized page text. The digest is used
// only to detect change between fetches.
type Hasher struct {
	maxChars int
}

// New returns a Hasher that considers the first DefaultMaxChars characters.
func New() *Hasher {
	return NewWithLimit(DefaultMaxChars)
}

// NewWithLimit returns a Hasher that considers the first maxChars characters.
// Non-positive limits fall back to DefaultMaxChars.
func NewWithLimit(maxChars int) *Hasher {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Hasher{maxChars: maxChars}
}

// HashText normalizes whitespace, truncates to the configured number of
// characters, and returns the hex digest. Texts differing only in whitespace
// hash identically.
func (h *Hasher) HashText(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	runes := []rune(normalized)
	if len(runes) > h.maxChars {
		normalized = string(runes[:h.maxChars])
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
