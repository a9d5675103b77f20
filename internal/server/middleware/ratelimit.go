package middleware

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dogshouse/dogshouse/internal/metrics"
	"github.com/dogshouse/dogshouse/internal/observability"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
)

const (
	// ForwardedForHeader carries the client address when behind a proxy.
	ForwardedForHeader = "X-Forwarded-For"

	// UnknownClientID is shared by every request whose origin cannot be
	// determined, so those requests are limited together.
	UnknownClientID = "unknown"

	// RateLimitedMessage is the plain-text body of a 429 response.
	RateLimitedMessage = "Too many requests. Please try again later."

	defaultStatsTimeout = 100 * time.Millisecond
)

// Decider makes admission decisions for a client identity.
type Decider interface {
	Decide(clientID string) ratelimit.Decision
}

// RateLimitOption configures the RateLimit middleware.
type RateLimitOption func(*rateLimitOptions)

type rateLimitOptions struct {
	keyFunc      func(*http.Request) string
	stats        ratelimit.StatsStore
	statsTimeout time.Duration
}

// WithKeyFunc overrides how the client identity is derived.
func WithKeyFunc(fn func(*http.Request) string) RateLimitOption {
	return func(o *rateLimitOptions) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

// WithStatsStore records every decision in store. Failures are logged and
// counted but never change the response.
func WithStatsStore(store ratelimit.StatsStore) RateLimitOption {
	return func(o *rateLimitOptions) { o.stats = store }
}

// WithStatsTimeout bounds each stats write.
func WithStatsTimeout(d time.Duration) RateLimitOption {
	return func(o *rateLimitOptions) {
		if d > 0 {
			o.statsTimeout = d
		}
	}
}

// ClientID derives the rate-limit identity: the first X-Forwarded-For entry,
// else the peer host, else UnknownClientID. The header is trusted as sent.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get(ForwardedForHeader); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return UnknownClientID
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		if host == "" {
			return UnknownClientID
		}
		return host
	}
	return remote
}

// RateLimit gates every request through limiter. Denied requests get a 429
// with a plain-text body and never reach next.
func RateLimit(limiter Decider, opts ...RateLimitOption) func(http.Handler) http.Handler {
	o := rateLimitOptions{
		keyFunc:      ClientID,
		statsTimeout: defaultStatsTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := o.keyFunc(r)
			decision := limiter.Decide(clientID)
			endpoint := getEndpointPattern(r)

			metrics.RecordRateLimitDecision(endpoint, decision.Allowed)
			if observability.ServerLogger != nil {
				observability.ServerLogger.Debug("Rate limit decision",
					zap.String("client_id", clientID),
					zap.Bool("allowed", decision.Allowed),
					zap.Int("remaining", decision.Remaining),
					zap.Duration("retry_after", decision.RetryAfter),
					zap.String("endpoint", endpoint),
					zap.String("requestID", GetRequestID(r.Context())))
			}
			o.record(r, clientID, decision.Allowed)

			if !decision.Allowed {
				writeRateLimited(w, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (o rateLimitOptions) record(r *http.Request, clientID string, allowed bool) {
	if o.stats == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), o.statsTimeout)
	defer cancel()

	err := o.stats.Record(ctx, ratelimit.StatsEvent{
		ClientID: clientID,
		Allowed:  allowed,
		Method:   r.Method,
		Path:     getEndpointPattern(r),
		At:       time.Now(),
	})
	if err == nil {
		return
	}

	metrics.RecordRateLimitStatsError()
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to record rate limit decision",
			zap.Error(err))
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, RateLimitedMessage)
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
