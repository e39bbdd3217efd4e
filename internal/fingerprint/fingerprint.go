// Package fingerprint computes SHA-256 content digests used for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestLength is the length of a hex-encoded digest.
const DigestLength = sha256.Size * 2

// Hasher fingerprints normalized page text.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Digest hashes the exact UTF-8 bytes of text and returns a hex digest.
func (Hasher) Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HasChanged compares text against a previously stored digest. A nil stored
// digest means the task was never checked; that first observation is a
// baseline and never reports a change.
func (h Hasher) HasChanged(stored *string, text string) (bool, string) {
	digest := h.Digest(text)
	if stored == nil {
		return false, digest
	}
	return *stored != digest, digest
}
