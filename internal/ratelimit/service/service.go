// Package service implements fixed-window rate limiting over the shared
// storage backend. Fixed windows accept a known boundary-burst edge case (up
// to 2x the limit across a window boundary) in exchange for O(1) storage per
// bucket and no sliding-window bookkeeping.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"kwscope/internal/ratelimit/metrics"
	"kwscope/internal/ratelimit/models"
	"kwscope/internal/storage"
)

// Service enforces "at most N requests per window per client per policy",
// correct across multiple instances sharing one storage backend. The
// backend's atomic increment is the sole correctness guarantee under
// concurrent access; the service itself holds no counter state.
type Service struct {
	backend storage.Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
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

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a rate limiter backed by the given store.
func New(backend storage.Backend, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	svc := &Service{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check runs one fixed-window decision for (identifier, policy). Backend
// outages never surface as errors: they are absorbed into an allowed or
// limited decision per the policy's fail-safe, with Degraded set.
func (s *Service) Check(ctx context.Context, identifier string, policy models.Policy) (*models.Result, error) {
	if !policy.Enabled {
		return &models.Result{
			Allowed:   true,
			Limit:     policy.Limit,
			Remaining: policy.Limit,
			ResetAt:   s.now(),
		}, nil
	}

	// Default-deny on a broken policy: a route that asked for limiting but
	// configured it wrong should not run unprotected.
	if policy.Limit <= 0 || policy.Window <= 0 {
		s.logger.ErrorContext(ctx, "rate limit policy misconfigured",
			"event", "rate_limit_config_invalid",
			"policy", policy.Name,
			"limit", policy.Limit,
			"window", policy.Window.String(),
		)
		return &models.Result{
			Allowed:    false,
			ResetAt:    s.now().Add(time.Minute),
			RetryAfter: 60,
		}, nil
	}

	now := s.now()
	windowStart := now.Truncate(policy.Window)
	resetAt := windowStart.Add(policy.Window)
	key := models.BucketKey(policy.Name, identifier, windowStart)

	count, err := s.backend.Increment(ctx, key, policy.Window)
	if err != nil {
		return s.failSafe(ctx, identifier, policy, resetAt, err), nil
	}

	if count > int64(policy.Limit) {
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"event", "rate_limit_exceeded",
			"policy", policy.Name,
			"identifier", identifier,
			"count", count,
			"limit", policy.Limit,
			"reset_at", resetAt,
		)
		s.record(policy.Name, "limited")
		return &models.Result{
			Allowed:    false,
			Limit:      policy.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(now, resetAt),
		}, nil
	}

	s.record(policy.Name, "allowed")
	return &models.Result{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit - int(count),
		ResetAt:   resetAt,
	}, nil
}

// failSafe resolves a backend outage into a decision. Fail-open allows the
// request and logs the degradation; fail-closed limits it with a
// conservative retry-after of one full window.
func (s *Service) failSafe(ctx context.Context, identifier string, policy models.Policy, resetAt time.Time, cause error) *models.Result {
	if s.metrics != nil {
		s.metrics.RecordBackendFailure()
	}
	s.logger.WarnContext(ctx, "rate limit backend unavailable",
		"event", "rate_limit_degraded",
		"policy", policy.Name,
		"identifier", identifier,
		"fail_safe", string(policy.FailSafe),
		"error", cause,
	)

	if policy.FailSafe == models.FailOpen {
		s.record(policy.Name, "fail_open")
		return &models.Result{
			Allowed:   true,
			Limit:     policy.Limit,
			Remaining: policy.Limit,
			ResetAt:   resetAt,
			Degraded:  true,
		}
	}

	s.record(policy.Name, "fail_closed")
	return &models.Result{
		Allowed:    false,
		Limit:      policy.Limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: int(policy.Window / time.Second),
		Degraded:   true,
	}
}

func (s *Service) record(policy, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCheck(policy, outcome)
	}
}

func retryAfterSeconds(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
