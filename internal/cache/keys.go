package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix namespaces cache entries away from rate limit counters in the
// shared storage backend.
const KeyPrefix = "cache"

// Fingerprint derives a cache key from request parameters: each part is
// trimmed and lowercased so equivalent requests collapse to one entry, then
// the parts are joined on an unprintable separator and hashed. Hashing keeps
// keys fixed-length and keeps raw query text out of the store.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(strings.ToLower(strings.TrimSpace(part))))
	}
	return KeyPrefix + ":" + hex.EncodeToString(h.Sum(nil))
}
