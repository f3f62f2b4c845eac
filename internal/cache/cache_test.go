package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kwscope/internal/storage"
)

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

func (failingBackend) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, fmt.Errorf("%w: connection refused", storage.ErrUnavailable)
}

type CacheSuite struct {
	suite.Suite
	ctx   context.Context
	now   time.Time
	cache *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := storage.NewMemory(storage.WithMemoryClock(func() time.Time { return s.now }))
	s.cache = New(backend)
}

func (s *CacheSuite) TestSetGetRoundTrip() {
	ok := s.cache.Set(s.ctx, "cache:k", []byte(`{"keyword":"espresso"}`), time.Hour)
	s.Require().True(ok)

	payload, hit := s.cache.Get(s.ctx, "cache:k")
	s.True(hit)
	s.Equal([]byte(`{"keyword":"espresso"}`), payload)
}

func (s *CacheSuite) TestMissOnAbsentKey() {
	_, hit := s.cache.Get(s.ctx, "cache:absent")
	s.False(hit)
}

func (s *CacheSuite) TestMissAfterTTL() {
	ok := s.cache.Set(s.ctx, "cache:k", []byte("v"), time.Minute)
	s.Require().True(ok)

	s.now = s.now.Add(time.Minute + time.Second)
	_, hit := s.cache.Get(s.ctx, "cache:k")
	s.False(hit)
}

func (s *CacheSuite) TestPrivacyModeDisablesEverything() {
	backend := storage.NewMemory()
	private := New(backend, WithPrivacyMode(true))

	s.False(private.Available())
	s.False(private.Set(s.ctx, "cache:k", []byte("v"), time.Hour))
	_, hit := private.Get(s.ctx, "cache:k")
	s.False(hit)

	// Nothing was written behind the scenes either.
	_, err := backend.Get(s.ctx, "cache:k")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *CacheSuite) TestNilBackendUnavailable() {
	c := New(nil)
	s.False(c.Available())
	s.False(c.Set(s.ctx, "cache:k", []byte("v"), time.Hour))
	_, hit := c.Get(s.ctx, "cache:k")
	s.False(hit)
}

func (s *CacheSuite) TestBackendErrorsDegradeToMiss() {
	c := New(failingBackend{})
	s.True(c.Available())

	_, hit := c.Get(s.ctx, "cache:k")
	s.False(hit)

	s.False(c.Set(s.ctx, "cache:k", []byte("v"), time.Hour))
}

func (s *CacheSuite) TestNonPositiveTTLNotCached() {
	s.False(s.cache.Set(s.ctx, "cache:k", []byte("v"), 0))
}

func TestFingerprintNormalizes(t *testing.T) {
	base := Fingerprint("keywords", "Espresso Machine", "us")

	assert.Equal(t, base, Fingerprint("keywords", "  espresso machine ", "US"))
	assert.NotEqual(t, base, Fingerprint("keywords", "espresso grinder", "us"))
	assert.NotEqual(t, base, Fingerprint("keywords", "espresso machine", "de"))
}

func TestFingerprintSeparatesParts(t *testing.T) {
	// Concatenation across the part boundary must not collide.
	require.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("keywords", "espresso")
	assert.Regexp(t, `^cache:[0-9a-f]{64}$`, fp)
}
