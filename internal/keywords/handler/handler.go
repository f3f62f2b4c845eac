// Package handler translates orchestration outcomes into HTTP responses.
// Only the rate limit decision and the circuit's fast-fail are client-facing;
// the provider's genuine failure is logged with full detail and surfaced as
// an opaque 502.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kwscope/internal/breaker"
	"kwscope/internal/keywords/service"
	"kwscope/internal/platform/httputil"
	"kwscope/internal/platform/middleware/metadata"
	"kwscope/internal/platform/middleware/request"
	"kwscope/internal/provider"
	"kwscope/internal/ratelimit/models"
)

const maxQueryLength = 200

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ResearchResponse is the success body for one keyword lookup.
type ResearchResponse struct {
	Data   *provider.KeywordData `json:"data"`
	Cached bool                  `json:"cached"`
}

// Research handles GET /v1/keywords/research?q=<query>.
func (h *Handler) Research(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httputil.WriteError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required.")
		return
	}
	if len(query) > maxQueryLength {
		httputil.WriteError(w, http.StatusBadRequest, "query_too_long", "Query parameter 'q' exceeds maximum length.")
		return
	}

	clientID := metadata.GetClientIP(ctx)
	result, err := h.svc.Research(ctx, clientID, query)
	if err != nil {
		h.writeFailure(w, r, query, err)
		return
	}

	addRateLimitHeaders(w, result.RateLimit)
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	httputil.WriteJSON(w, http.StatusOK, &ResearchResponse{Data: result.Data, Cached: result.Cached})
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, query string, err error) {
	ctx := r.Context()

	var quotaErr *service.QuotaExceededError
	if errors.As(err, &quotaErr) {
		addRateLimitHeaders(w, quotaErr.Result)
		w.Header().Set("Retry-After", strconv.Itoa(quotaErr.Result.RetryAfter))
		httputil.WriteJSON(w, http.StatusTooManyRequests, &httputil.ErrorResponse{
			Error:      "rate_limit_exceeded",
			Message:    "You have exceeded your request quota. Please try again later.",
			RetryAfter: quotaErr.Result.RetryAfter,
		})
		return
	}

	var openErr *breaker.CircuitOpenError
	if errors.As(err, &openErr) {
		retryAfter := openErr.RetryAfter(time.Now())
		h.logger.WarnContext(ctx, "research rejected, circuit open",
			"event", "research_circuit_open",
			"breaker", openErr.Name,
			"rejections", openErr.Stats.Rejections,
			"next_attempt_at", openErr.Stats.NextAttemptAt,
			"request_id", request.GetRequestID(ctx),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httputil.WriteJSON(w, http.StatusServiceUnavailable, &httputil.ErrorResponse{
			Error:      "provider_unavailable",
			Message:    "The keyword data provider is temporarily unavailable.",
			RetryAfter: retryAfter,
		})
		return
	}

	// The provider's real error stays in the logs; clients get an opaque 502.
	h.logger.ErrorContext(ctx, "provider call failed",
		"event", "research_provider_error",
		"query", query,
		"error", err,
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteError(w, http.StatusBadGateway, "provider_error", "The keyword data provider returned an error.")
}

// Health handles GET /healthz, reporting the breaker position and cache
// availability so operators can see degradation before clients do.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.BreakerStats()
	status := "ok"
	if stats.State == breaker.StateOpen {
		status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"breaker":         stats,
		"cache_available": h.svc.CacheAvailable(),
	})
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
