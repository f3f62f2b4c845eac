// Package service orchestrates one keyword research request through the
// usage-control layer: rate limit check, cache lookup, breaker-guarded
// provider call, write-through. It is the only caller that sees all three
// components.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"kwscope/internal/breaker"
	"kwscope/internal/cache"
	"kwscope/internal/keywords/metrics"
	"kwscope/internal/provider"
	"kwscope/internal/ratelimit/models"
)

// RateLimiter is the inbound quota decision dependency.
type RateLimiter interface {
	Check(ctx context.Context, identifier string, policy models.Policy) (*models.Result, error)
}

// ResponseCache is the provider-response cache dependency.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) bool
	Available() bool
}

// QuotaExceededError carries the rate limit decision so the transport layer
// can translate it without re-checking.
type QuotaExceededError struct {
	Policy string
	Result *models.Result
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded for policy " + e.Policy
}

// Result is the orchestration outcome surfaced to the handler.
type Result struct {
	Data *provider.KeywordData
	// Cached reports whether the payload came from the response cache
	// rather than a fresh provider call.
	Cached bool
	// RateLimit is the decision that admitted this request, for response
	// headers.
	RateLimit *models.Result
}

type Service struct {
	limiter  RateLimiter
	cache    ResponseCache
	breaker  *breaker.Breaker
	source   provider.KeywordSource
	policy   models.Policy
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New wires the orchestration service. All dependencies are required except
// metrics.
func New(
	limiter RateLimiter,
	responseCache ResponseCache,
	b *breaker.Breaker,
	source provider.KeywordSource,
	policy models.Policy,
	cacheTTL time.Duration,
	opts ...Option,
) (*Service, error) {
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if responseCache == nil {
		return nil, errors.New("response cache is required")
	}
	if b == nil {
		return nil, errors.New("circuit breaker is required")
	}
	if source == nil {
		return nil, errors.New("keyword source is required")
	}

	svc := &Service{
		limiter:  limiter,
		cache:    responseCache,
		breaker:  b,
		source:   source,
		policy:   policy,
		cacheTTL: cacheTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Research runs the full decision chain for one query. Error cases the
// caller must branch on: *QuotaExceededError (client over quota),
// *breaker.CircuitOpenError (provider degraded, fail fast), anything else is
// the provider's own failure, re-raised unchanged.
func (s *Service) Research(ctx context.Context, clientID, query string) (*Result, error) {
	limit, err := s.limiter.Check(ctx, clientID, s.policy)
	if err != nil {
		return nil, err
	}
	if !limit.Allowed {
		return nil, &QuotaExceededError{Policy: s.policy.Name, Result: limit}
	}

	key := cache.Fingerprint("keywords", query)
	if payload, hit := s.cache.Get(ctx, key); hit {
		var data provider.KeywordData
		if err := json.Unmarshal(payload, &data); err == nil {
			s.logger.DebugContext(ctx, "cache hit",
				"event", "keyword_cache_hit", "query", query)
			return &Result{Data: &data, Cached: true, RateLimit: limit}, nil
		}
		// A corrupt entry is treated as a miss; it will be overwritten below.
		s.logger.WarnContext(ctx, "discarding corrupt cache entry",
			"event", "cache_corrupt", "key", key, "error", err)
	}

	data, err := s.fetch(ctx, key, query)
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Cached: false, RateLimit: limit}, nil
}

// fetch runs the breaker-guarded provider call, collapsing concurrent
// identical misses into a single upstream request. The provider bills per
// call, so duplicate suppression is spend control, not just load shedding.
func (s *Service) fetch(ctx context.Context, key, query string) (*provider.KeywordData, error) {
	v, err, shared := s.group.Do(key, func() (any, error) {
		start := time.Now()
		data, err := breaker.Execute(ctx, s.breaker, func(ctx context.Context) (*provider.KeywordData, error) {
			return s.source.Research(ctx, query)
		})
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ObserveProviderCall(time.Since(start))
		}

		if payload, merr := json.Marshal(data); merr == nil {
			s.cache.Set(ctx, key, payload, s.cacheTTL)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if shared && s.metrics != nil {
		s.metrics.RecordCollapsedLookup()
	}
	return v.(*provider.KeywordData), nil
}

// BreakerStats exposes the provider breaker snapshot for health reporting.
func (s *Service) BreakerStats() breaker.Stats {
	return s.breaker.Stats()
}

// CacheAvailable reports whether response caching is in effect.
func (s *Service) CacheAvailable() bool {
	return s.cache.Available()
}
