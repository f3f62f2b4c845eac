// Package cache is the TTL response cache sitting between the rate limiter
// and the provider call. It exists to avoid re-paying for identical provider
// lookups; it is strictly an optimization and never a correctness dependency,
// so every backend failure degrades to a miss.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kwscope/internal/cache/metrics"
	"kwscope/internal/storage"
)

// Cache wraps the storage backend with miss-on-error semantics and a privacy
// kill-switch.
type Cache struct {
	backend storage.Backend
	privacy bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrivacyMode fully disables reads and writes when enabled. The flag is
// consulted on every operation: no stale reads, no silent writes.
func WithPrivacyMode(enabled bool) Option {
	return func(c *Cache) {
		c.privacy = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a response cache over the given backend. A nil backend is
// allowed and yields a cache that is simply unavailable.
func New(backend storage.Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether caching can affect behavior at all: a backend is
// configured and privacy mode is off. Callers (health checks, tests) should
// consult this before assuming cache semantics.
func (c *Cache) Available() bool {
	return c.backend != nil && !c.privacy
}

// Get returns the cached payload for key, or a miss. Backend errors are
// logged and reported as misses, never propagated.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Available() {
		return nil, false
	}

	payload, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.WarnContext(ctx, "cache read failed",
				"event", "cache_error", "key", key, "error", err)
			c.count("error")
		} else {
			c.count("miss")
		}
		return nil, false
	}

	c.count("hit")
	return payload, true
}

// Set stores payload under key for ttl and reports whether it was cached.
// Failures are logged and swallowed; the overall request never fails on a
// cache write.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) bool {
	if !c.Available() || ttl <= 0 {
		return false
	}

	if err := c.backend.Set(ctx, key, payload, ttl); err != nil {
		c.logger.WarnContext(ctx, "cache write failed",
			"event", "cache_error", "key", key, "error", err)
		c.count("error")
		return false
	}
	return true
}

func (c *Cache) count(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordLookup(outcome)
	}
}
