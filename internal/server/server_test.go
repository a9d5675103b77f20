package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogshouse/dogshouse/internal/core"
	apperrors "github.com/dogshouse/dogshouse/internal/errors"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
	"github.com/dogshouse/dogshouse/internal/server/handlers"
	servermw "github.com/dogshouse/dogshouse/internal/server/middleware"
)

type memoryDogs struct {
	mu   sync.Mutex
	dogs []core.Dog
}

func (m *memoryDogs) ListDogs(_ context.Context, q core.DogsQuery) ([]core.Dog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := q.Offset()
	if start >= len(m.dogs) {
		return []core.Dog{}, nil
	}
	end := min(start+q.PageSize, len(m.dogs))
	return append([]core.Dog{}, m.dogs[start:end]...), nil
}

func (m *memoryDogs) DogNameExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dog := range m.dogs {
		if strings.EqualFold(dog.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryDogs) CreateDog(_ context.Context, dog core.Dog) (core.Dog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dog.ID = int64(len(m.dogs) + 1)
	m.dogs = append(m.dogs, dog)
	return dog, nil
}

func newTestServer(t *testing.T, limit int, opts ...Option) *Server {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.Config{MaxRequestsPerWindow: limit, Window: time.Minute})
	require.NoError(t, err)

	opts = append([]Option{WithLimiter(limiter)}, opts...)
	srv, err := New("127.0.0.1", 0, opts...)
	require.NoError(t, err)
	t.Cleanup(handlers.ResetHTTPErrorResponder)
	return srv
}

func serve(srv *Server, method, target, body, clientIP string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = clientIP + ":40000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := serve(srv, http.MethodGet, "/does-not-exist", "", "192.0.2.1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, rec.Header().Get(servermw.RequestIDHeader), body.Error.RequestID)

	rec = serve(srv, http.MethodDelete, "/ping", "", "192.0.2.1")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerPing(t *testing.T) {
	srv := newTestServer(t, 100)

	rec := serve(srv, http.MethodGet, "/ping", "", "192.0.2.1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handlers.ServiceVersion, rec.Body.String())
}

func TestServerRateLimitsEveryRoute(t *testing.T) {
	srv := newTestServer(t, 3, WithDogStore(&memoryDogs{}))

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/ping", "", "198.51.100.7").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/dogs", "", "198.51.100.7").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/nope", "", "198.51.100.7").Code)

	rec := serve(srv, http.MethodGet, "/dogs", "", "198.51.100.7")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, servermw.RateLimitedMessage, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, rec.Header().Get(servermw.RequestIDHeader))

	// Another client is unaffected.
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/ping", "", "198.51.100.8").Code)
}

func TestServerHonorsForwardedFor(t *testing.T) {
	srv := newTestServer(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-IP", "203.0.113.200")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same proxy, different forwarded client.
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// X-Real-IP is not an identity source.
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "203.0.113.200:5000"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerDogsRoundTrip(t *testing.T) {
	srv := newTestServer(t, 100, WithDogStore(&memoryDogs{}))

	rec := serve(srv, http.MethodPost, "/dog", `{"name":"Neo","color":"red&amber","tail_length":22,"weight":32}`, "192.0.2.5")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodPost, "/dog", `{"name":"Neo","color":"grey","tail_length":1,"weight":1}`, "192.0.2.5")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(srv, http.MethodGet, "/dogs?pageSize=5", "", "192.0.2.5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"name":"Neo","color":"red&amber","tail_length":22,"weight":32}]`, rec.Body.String())

	rec = serve(srv, http.MethodGet, "/dogs?order=sideways", "", "192.0.2.5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerWithoutDogStoreHasNoDogRoutes(t *testing.T) {
	srv := newTestServer(t, 100)

	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/dogs", "", "192.0.2.1").Code)
}

func TestServerRecordsDecisionStats(t *testing.T) {
	stats := ratelimit.NewMemoryStatsStore()
	srv := newTestServer(t, 1, WithStatsStore(stats))

	serve(srv, http.MethodGet, "/ping", "", "192.0.2.50")
	serve(srv, http.MethodGet, "/ping", "", "192.0.2.50")

	assert.Equal(t, ratelimit.Counters{Allowed: 1, Denied: 1}, stats.Total())
}

func TestNewBuildsDefaultLimiter(t *testing.T) {
	srv, err := New("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(handlers.ResetHTTPErrorResponder)

	allowed := 0
	for i := 0; i < ratelimit.DefaultMaxRequestsPerWindow+5; i++ {
		if serve(srv, http.MethodGet, "/ping", "", "192.0.2.77").Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, ratelimit.DefaultMaxRequestsPerWindow, allowed)
	assert.Equal(t, 0, srv.Port())
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := newTestServer(t, 1)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestTrackConnState(t *testing.T) {
	srv := newTestServer(t, 1)

	srv.trackConnState(nil, http.StateNew)
	srv.trackConnState(nil, http.StateNew)
	srv.trackConnState(nil, http.StateActive)
	srv.trackConnState(nil, http.StateClosed)

	assert.Equal(t, int64(1), srv.activeConns.Load())
}

func TestServerHealthEndpointsCanBeDisabled(t *testing.T) {
	srv := newTestServer(t, 100, WithHealthEndpoints(false))
	rec := serve(srv, http.MethodGet, "/health/live", "", "192.0.2.60")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	enabled := newTestServer(t, 100)
	rec = serve(enabled, http.MethodGet, "/health/live", "", "192.0.2.61")
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}
