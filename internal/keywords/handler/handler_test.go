package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kwscope/internal/breaker"
	"kwscope/internal/cache"
	"kwscope/internal/keywords/service"
	"kwscope/internal/platform/middleware/metadata"
	"kwscope/internal/provider"
	"kwscope/internal/ratelimit/models"
	"kwscope/internal/storage"
)

type fixedLimiter struct {
	result *models.Result
}

func (l fixedLimiter) Check(context.Context, string, models.Policy) (*models.Result, error) {
	return l.result, nil
}

type fixture struct {
	handler *Handler
	source  *scriptedSource
	breaker *breaker.Breaker
}

type scriptedSource struct {
	fail bool
}

func (s *scriptedSource) Research(_ context.Context, query string) (*provider.KeywordData, error) {
	if s.fail {
		return nil, context.DeadlineExceeded
	}
	return &provider.KeywordData{Keyword: query, SearchVolume: 8100}, nil
}

func newFixture(t *testing.T, limiter service.RateLimiter) *fixture {
	t.Helper()

	source := &scriptedSource{}
	b := breaker.New("provider", breaker.WithFailureThreshold(1))
	svc, err := service.New(
		limiter,
		cache.New(storage.NewMemory()),
		b,
		source,
		models.Policy{Name: "keyword-research", Limit: 100, Window: time.Hour, Enabled: true},
		time.Hour,
	)
	require.NoError(t, err)

	return &fixture{
		handler: New(svc, slog.New(slog.DiscardHandler)),
		source:  source,
		breaker: b,
	}
}

func allowed() fixedLimiter {
	return fixedLimiter{result: &models.Result{
		Allowed:   true,
		Limit:     100,
		Remaining: 99,
		ResetAt:   time.Unix(1770000000, 0),
	}}
}

func doResearch(f *fixture, query string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/v1/keywords/research?q="+query, nil)
	r = r.WithContext(metadata.WithClientIP(r.Context(), "203.0.113.9"))
	rec := httptest.NewRecorder()
	f.handler.Research(rec, r)
	return rec
}

func TestResearchSuccess(t *testing.T) {
	f := newFixture(t, allowed())

	rec := doResearch(f, "espresso")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))

	var body ResearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "espresso", body.Data.Keyword)
	assert.False(t, body.Cached)
}

func TestResearchCachedOnRepeat(t *testing.T) {
	f := newFixture(t, allowed())

	_ = doResearch(f, "espresso")
	rec := doResearch(f, "espresso")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	var body ResearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Cached)
}

func TestResearchMissingQuery(t *testing.T) {
	f := newFixture(t, allowed())

	rec := doResearch(f, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResearchQuotaExceeded(t *testing.T) {
	f := newFixture(t, fixedLimiter{result: &models.Result{
		Allowed:    false,
		Limit:      100,
		Remaining:  0,
		ResetAt:    time.Unix(1770000000, 0),
		RetryAfter: 1800,
	}})

	rec := doResearch(f, "espresso")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestResearchProviderFailure(t *testing.T) {
	f := newFixture(t, allowed())
	f.source.fail = true

	rec := doResearch(f, "espresso")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_error")
	// The provider's underlying error never leaks to the client.
	assert.NotContains(t, rec.Body.String(), "deadline")
}

func TestResearchCircuitOpen(t *testing.T) {
	f := newFixture(t, allowed())
	f.source.fail = true

	// Threshold is one: the first failure opens the circuit.
	rec := doResearch(f, "espresso")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = doResearch(f, "another")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_unavailable")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthReportsBreakerAndCache(t *testing.T) {
	f := newFixture(t, allowed())

	rec := httptest.NewRecorder()
	f.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status         string        `json:"status"`
		Breaker        breaker.Stats `json:"breaker"`
		CacheAvailable bool          `json:"cache_available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.CacheAvailable)
	assert.Equal(t, breaker.StateClosed, body.Breaker.State)
}

func TestHealthDegradedWhenOpen(t *testing.T) {
	f := newFixture(t, allowed())
	f.source.fail = true
	_ = doResearch(f, "espresso")

	rec := httptest.NewRecorder()
	f.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
}
