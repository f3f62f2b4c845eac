package models

import (
	"strconv"
	"strings"
	"time"
)

// KeyPrefix namespaces rate limit counters away from cache entries in the
// shared storage backend.
const KeyPrefix = "ratelimit"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers
// containing ':' could manipulate adjacent rate limit buckets.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// BucketKey builds the counter key for one (policy, identifier, window)
// bucket. The window start is part of the key, so a new window means a new
// counter and the old one simply expires.
func BucketKey(policy, identifier string, windowStart time.Time) string {
	return KeyPrefix + ":" +
		SanitizeKeySegment(policy) + ":" +
		SanitizeKeySegment(identifier) + ":" +
		strconv.FormatInt(windowStart.Unix(), 10)
}
