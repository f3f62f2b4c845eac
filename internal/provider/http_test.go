package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSourceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/keywords", r.URL.Path)
		assert.Equal(t, "espresso machine", r.URL.Query().Get("q"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keyword":"espresso machine","search_volume":8100,"difficulty":42.5,"cpc":1.2}`))
	}))
	defer srv.Close()

	source := NewHTTP(srv.URL, "test-key", 5*time.Second)
	data, err := source.Research(context.Background(), "espresso machine")

	require.NoError(t, err)
	assert.Equal(t, "espresso machine", data.Keyword)
	assert.Equal(t, 8100, data.SearchVolume)
	assert.False(t, data.FetchedAt.IsZero())
}

func TestHTTPSourceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	source := NewHTTP(srv.URL, "", 5*time.Second)
	_, err := source.Research(context.Background(), "espresso")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPSourceMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keyword":`))
	}))
	defer srv.Close()

	source := NewHTTP(srv.URL, "", 5*time.Second)
	_, err := source.Research(context.Background(), "espresso")
	require.Error(t, err)
}

// The hard timeout bounds every call; a hung provider surfaces as an
// ordinary failure for breaker bookkeeping.
func TestHTTPSourceTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	source := NewHTTP(srv.URL, "", 100*time.Millisecond)

	start := time.Now()
	_, err := source.Research(context.Background(), "espresso")

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStubSourceDeterministic(t *testing.T) {
	stub := NewStub()

	a, err := stub.Research(context.Background(), "espresso")
	require.NoError(t, err)
	b, err := stub.Research(context.Background(), "Espresso ")
	require.NoError(t, err)

	assert.Equal(t, a.SearchVolume, b.SearchVolume, "normalized queries match")
	assert.NotEmpty(t, a.Related)
}
