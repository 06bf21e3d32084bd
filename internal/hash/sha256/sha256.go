// Package sha256 provides the SHA-256 fingerprints used for content hashes and snapshot keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements tender.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short returns the first n hex characters of the digest of s.
func (h *Hasher) Short(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	digest := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
