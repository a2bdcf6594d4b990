package outline

import (
	"crypto/sha256"
	"encoding/hex"
)

// contentHash fingerprints text for change-detection (spec §4.8 step 1 and
// the LaTeX rasterizer's cache key, spec §4.3).
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ContentHash exposes contentHash for callers outside this package (the
// reconciler hashing whole-file bytes, the rasterizer hashing LaTeX source).
func ContentHash(text string) string { return contentHash(text) }
