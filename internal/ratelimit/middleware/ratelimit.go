package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"kwscope/internal/platform/httputil"
	"kwscope/internal/platform/middleware/metadata"
	"kwscope/internal/ratelimit/models"
)

// RateLimiter is the decision interface the middleware needs. Identifier
// derivation stays out of the limiter to keep it protocol-agnostic; this
// middleware supplies the client IP resolved by the metadata middleware.
type RateLimiter interface {
	Check(ctx context.Context, identifier string, policy models.Policy) (*models.Result, error)
}

// Middleware wires rate limit decisions into the HTTP chain.
type Middleware struct {
	limiter RateLimiter
	logger  *slog.Logger
}

func New(limiter RateLimiter, logger *slog.Logger) *Middleware {
	return &Middleware{limiter: limiter, logger: logger}
}

// Limit enforces the given policy per client IP. Decision headers are added
// regardless of outcome so well-behaved clients can pace themselves.
func (m *Middleware) Limit(policy models.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)

			result, err := m.limiter.Check(ctx, ip, policy)
			if err != nil {
				// Only programmer error reaches here; backend outages are
				// already folded into the decision. Do not block traffic on it.
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "policy", policy.Name)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &httputil.ErrorResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
