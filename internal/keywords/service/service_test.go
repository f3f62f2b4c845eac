package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kwscope/internal/breaker"
	"kwscope/internal/cache"
	"kwscope/internal/provider"
	"kwscope/internal/ratelimit/models"
	"kwscope/internal/storage"
)

var errUpstream = errors.New("provider: upstream timeout")

// allowAllLimiter admits everything and records the identifiers it saw.
type allowAllLimiter struct {
	mu          sync.Mutex
	identifiers []string
}

func (l *allowAllLimiter) Check(_ context.Context, identifier string, policy models.Policy) (*models.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.identifiers = append(l.identifiers, identifier)
	return &models.Result{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit - 1}, nil
}

// denyLimiter rejects everything with a fixed retry-after.
type denyLimiter struct{}

func (denyLimiter) Check(_ context.Context, _ string, policy models.Policy) (*models.Result, error) {
	return &models.Result{Allowed: false, Limit: policy.Limit, RetryAfter: 42}, nil
}

// countingSource counts invocations and can be told to fail or block.
type countingSource struct {
	calls   atomic.Int64
	fail    bool
	release chan struct{}
}

func (s *countingSource) Research(_ context.Context, query string) (*provider.KeywordData, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.fail {
		return nil, errUpstream
	}
	return &provider.KeywordData{Keyword: query, SearchVolume: 1000, FetchedAt: time.Unix(1770000000, 0)}, nil
}

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	limiter *allowAllLimiter
	source  *countingSource
	backend *storage.MemoryBackend
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.limiter = &allowAllLimiter{}
	s.source = &countingSource{}
	s.backend = storage.NewMemory()
}

func (s *ServiceSuite) policy() models.Policy {
	return models.Policy{Name: "keyword-research", Limit: 100, Window: time.Hour, Enabled: true, FailSafe: models.FailClosed}
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	svc, err := New(
		s.limiter,
		cache.New(s.backend),
		breaker.New("provider", breaker.WithFailureThreshold(5)),
		s.source,
		s.policy(),
		time.Hour,
		opts...,
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) TestMissCallsProviderAndCaches() {
	svc := s.newService()

	result, err := svc.Research(s.ctx, "203.0.113.9", "espresso machine")
	s.Require().NoError(err)
	s.False(result.Cached)
	s.Equal("espresso machine", result.Data.Keyword)
	s.Equal(int64(1), s.source.calls.Load())
	s.Require().NotNil(result.RateLimit)
	s.True(result.RateLimit.Allowed)

	// Second identical request is served from cache.
	result, err = svc.Research(s.ctx, "203.0.113.9", "espresso machine")
	s.Require().NoError(err)
	s.True(result.Cached)
	s.Equal("espresso machine", result.Data.Keyword)
	s.Equal(int64(1), s.source.calls.Load(), "provider must not be called again")
}

func (s *ServiceSuite) TestEquivalentQueriesShareCacheEntry() {
	svc := s.newService()

	_, err := svc.Research(s.ctx, "203.0.113.9", "Espresso Machine")
	s.Require().NoError(err)

	result, err := svc.Research(s.ctx, "203.0.113.9", "  espresso machine ")
	s.Require().NoError(err)
	s.True(result.Cached)
	s.Equal(int64(1), s.source.calls.Load())
}

func (s *ServiceSuite) TestQuotaExceeded() {
	svc, err := New(
		denyLimiter{},
		cache.New(s.backend),
		breaker.New("provider"),
		s.source,
		s.policy(),
		time.Hour,
	)
	s.Require().NoError(err)

	_, err = svc.Research(s.ctx, "203.0.113.9", "espresso")

	var quotaErr *QuotaExceededError
	s.Require().ErrorAs(err, &quotaErr)
	s.Equal("keyword-research", quotaErr.Policy)
	s.Equal(42, quotaErr.Result.RetryAfter)
	s.Zero(s.source.calls.Load(), "limited requests never reach the provider")
}

func (s *ServiceSuite) TestProviderFailureReRaised() {
	s.source.fail = true
	svc := s.newService()

	_, err := svc.Research(s.ctx, "203.0.113.9", "espresso")
	s.ErrorIs(err, errUpstream)
}

func (s *ServiceSuite) TestCircuitOpenFailsFast() {
	s.source.fail = true
	svc := s.newService()

	for range 5 {
		// Distinct queries so singleflight doesn't collapse the failures.
		_, _ = svc.Research(s.ctx, "203.0.113.9", "q"+time.Now().String())
		time.Sleep(time.Millisecond)
	}

	before := s.source.calls.Load()
	_, err := svc.Research(s.ctx, "203.0.113.9", "another query")

	s.ErrorIs(err, breaker.ErrCircuitOpen)
	s.Equal(before, s.source.calls.Load(), "open circuit must not invoke the provider")
}

func (s *ServiceSuite) TestCacheHitSkipsOpenCircuit() {
	svc := s.newService()

	_, err := svc.Research(s.ctx, "203.0.113.9", "espresso")
	s.Require().NoError(err)

	// Provider degrades and the circuit opens on other queries.
	s.source.fail = true
	for i := range 5 {
		_, _ = svc.Research(s.ctx, "203.0.113.9", "other"+string(rune('a'+i)))
	}

	// The cached query still serves.
	result, err := svc.Research(s.ctx, "203.0.113.9", "espresso")
	s.Require().NoError(err)
	s.True(result.Cached)
}

func (s *ServiceSuite) TestConcurrentIdenticalMissesCollapse() {
	s.source.release = make(chan struct{})
	svc := s.newService()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Research(s.ctx, "203.0.113.9", "espresso machine")
		}()
	}

	// Give every goroutine time to reach the singleflight barrier, then
	// let the single provider call finish.
	time.Sleep(50 * time.Millisecond)
	close(s.source.release)
	wg.Wait()

	for i := range callers {
		s.Require().NoError(errs[i])
		s.Equal("espresso machine", results[i].Data.Keyword)
	}
	s.Equal(int64(1), s.source.calls.Load(), "identical in-flight lookups share one provider call")
}

func (s *ServiceSuite) TestLimiterSeesClientIdentifier() {
	svc := s.newService()

	_, err := svc.Research(s.ctx, "203.0.113.9", "espresso")
	s.Require().NoError(err)
	s.Equal([]string{"203.0.113.9"}, s.limiter.identifiers)
}

func (s *ServiceSuite) TestRequiredDependencies() {
	_, err := New(nil, cache.New(s.backend), breaker.New("provider"), s.source, s.policy(), time.Hour)
	s.Error(err)

	_, err = New(s.limiter, nil, breaker.New("provider"), s.source, s.policy(), time.Hour)
	s.Error(err)

	_, err = New(s.limiter, cache.New(s.backend), nil, s.source, s.policy(), time.Hour)
	s.Error(err)

	_, err = New(s.limiter, cache.New(s.backend), breaker.New("provider"), nil, s.policy(), time.Hour)
	s.Error(err)
}
