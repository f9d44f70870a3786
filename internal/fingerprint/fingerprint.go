// Package fingerprint computes stable content fingerprints for cache keys.
//
// DESIGN: SHA-256 hex digests. Deterministic across process restarts (no
// randomized seeding), collision-resistant enough for cache keying. This is
// not a security boundary - a stale or colliding entry costs one redundant
// compression, nothing more.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Text returns the full 64-character hex digest of s.
func Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Short returns the first n characters of the digest of s.
// Used for human-readable fallback section IDs (e.g. LocationSummary_a1b2c3d4).
func Short(s string, n int) string {
	h := Text(s)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
