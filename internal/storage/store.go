// Package storage provides the shared key-value backend consumed by the rate
// limiter and the response cache. Rate limit counters and cache entries are
// independent key spaces in the same backend, namespaced by prefix.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when a key is absent or expired.
	ErrNotFound = errors.New("storage: key not found")

	// ErrUnavailable wraps backend transport failures. Callers decide
	// locally how to degrade (fail-open, fail-closed, cache miss); it is
	// never surfaced to clients as-is.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Backend is the store contract shared by the rate limiter and the response
// cache. Two realizations exist: the Redis backend for multi-instance
// correctness, and a bounded in-process map as a single-instance fallback.
// All methods must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key, or ErrNotFound when absent/expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Increment atomically increments the integer counter at key and
	// returns the new count. The TTL is applied only when the key is
	// created, so a window's expiry is anchored to its first request.
	// Atomicity of this operation is the single hard ordering guarantee
	// the rate limiter relies on under concurrent multi-instance access.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
