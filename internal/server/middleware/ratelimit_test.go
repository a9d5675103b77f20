package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogshouse/dogshouse/internal/ratelimit"
)

func TestClientID(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{name: "forwarded single", xff: "203.0.113.7", remoteAddr: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "forwarded chain uses first", xff: " 203.0.113.7 , 10.0.0.2, 10.0.0.3", remoteAddr: "10.0.0.1:1234", want: "203.0.113.7"},
		{name: "empty first entry falls back", xff: " , 10.0.0.2", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "peer host strips port", remoteAddr: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "peer ipv6", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "peer without port", remoteAddr: "192.0.2.10", want: "192.0.2.10"},
		{name: "nothing known", remoteAddr: "", want: UnknownClientID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/dogs", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set(ForwardedForHeader, tt.xff)
			}
			assert.Equal(t, tt.want, ClientID(req))
		})
	}
}

func newLimiter(t *testing.T, limit int) *ratelimit.Limiter {
	t.Helper()

	l, err := ratelimit.New(ratelimit.Config{MaxRequestsPerWindow: limit, Window: time.Second})
	require.NoError(t, err)
	return l
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	var calls atomic.Int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(newLimiter(t, 2))(next)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/dogs", nil)
		req.RemoteAddr = "198.51.100.1:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, RateLimitedMessage, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, int64(2), calls.Load(), "downstream must not run for denied requests")
}

func TestRateLimitSeparatesClients(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RateLimit(newLimiter(t, 1))(next)

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/dogs", nil)
		req.Header.Set(ForwardedForHeader, ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, ip)
	}

	req := httptest.NewRequest(http.MethodGet, "/dogs", nil)
	req.Header.Set(ForwardedForHeader, "203.0.113.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitConcurrentRequests(t *testing.T) {
	var calls atomic.Int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	handler := RateLimit(newLimiter(t, 5))(next)

	var (
		wg       sync.WaitGroup
		rejected atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.RemoteAddr = "192.0.2.99:1"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code == http.StatusTooManyRequests {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), calls.Load())
	assert.Equal(t, int64(45), rejected.Load())
}

func TestRateLimitRecordsStats(t *testing.T) {
	stats := ratelimit.NewMemoryStatsStore(ratelimit.WithMemoryTrackKeys(true))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RateLimit(newLimiter(t, 1), WithStatsStore(stats))(next)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/dogs", nil)
		req.Header.Set(ForwardedForHeader, "203.0.113.50")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, ratelimit.Counters{Allowed: 1, Denied: 2}, stats.Total())
	assert.Equal(t, ratelimit.Counters{Allowed: 1, Denied: 2}, stats.ByRoute()["GET /dogs"])
	assert.Equal(t, ratelimit.Counters{Allowed: 1, Denied: 2}, stats.ByKey()["203.0.113.50"])
}

type failingStats struct{}

func (failingStats) Record(context.Context, ratelimit.StatsEvent) error {
	return errors.New("redis down")
}

func TestRateLimitIgnoresStatsFailures(t *testing.T) {
	collector := setupTelemetry(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(newLimiter(t, 1), WithStatsStore(failingStats{}))(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dogs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, collector.CountMetricsByName("ratelimit_stats_errors_total"), 0)
	assert.Greater(t, collector.CountMetricsByName("ratelimit_decisions_total"), 0)
}

type fixedDecider struct {
	decision ratelimit.Decision
	seen     []string
}

func (f *fixedDecider) Decide(clientID string) ratelimit.Decision {
	f.seen = append(f.seen, clientID)
	return f.decision
}

func TestRateLimitUsesCustomKeyAndRetryAfter(t *testing.T) {
	decider := &fixedDecider{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2300 * time.Millisecond}}
	handler := RateLimit(decider, WithKeyFunc(func(r *http.Request) string {
		return r.Header.Get("X-Api-Key")
	}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("downstream should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/dogs", nil)
	req.Header.Set("X-Api-Key", "key-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"key-1"}, decider.seen)
}
