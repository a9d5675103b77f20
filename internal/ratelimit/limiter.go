package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool

	// Limit is the configured ceiling per window.
	Limit int

	// Remaining is how many more requests the client may make right now.
	Remaining int

	// RetryAfter is set on denial: the time until the oldest counted request
	// leaves the window.
	RetryAfter time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithSweepHook registers a callback invoked after every janitor sweep with
// the number of windows removed and the number still tracked.
func WithSweepHook(hook func(removed, remaining int)) Option {
	return func(l *Limiter) { l.onSweep = hook }
}

// clientWindow is the per-client request history. timestamps never holds
// more than MaxRequestsPerWindow entries.
type clientWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	expiresAt  time.Time

	// evicted is set by the janitor under mu after the window has been
	// removed from the map; holders of a stale pointer must look it up again.
	evicted bool
}

// Limiter is a per-client sliding-window rate limiter. It is safe for
// concurrent use. The limiter-wide lock only covers map lookup and insert;
// each client's read-modify-write runs under that client's own lock.
type Limiter struct {
	cfg     Config
	clock   func() time.Time
	onSweep func(removed, remaining int)

	mu      sync.Mutex
	windows map[string]*clientWindow
}

// New builds a limiter. Zero durations in cfg are defaulted first.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg:     cfg,
		clock:   time.Now,
		windows: make(map[string]*clientWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// TryAdmit records a request for clientID and reports whether it is admitted.
// The empty string is a valid identity of its own.
func (l *Limiter) TryAdmit(clientID string) bool {
	return l.Decide(clientID).Allowed
}

// Decide is TryAdmit with the remaining budget and retry hint attached.
// The clock is read under the client's lock so that recorded instants are
// ordered the same way the decisions were made.
func (l *Limiter) Decide(clientID string) Decision {
	for {
		w := l.lookup(clientID)

		w.mu.Lock()
		if w.evicted {
			w.mu.Unlock()
			continue
		}
		d := w.decide(l.clock(), l.cfg)
		w.mu.Unlock()

		return d
	}
}

// Clients reports how many client windows are currently tracked.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Cleanup removes every window whose idle deadline has passed and returns the
// number removed.
func (l *Limiter) Cleanup() int {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		w.mu.Lock()
		if !now.Before(w.expiresAt) {
			w.evicted = true
			delete(l.windows, id)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// StartJanitor sweeps idle windows every CleanupInterval until ctx is done.
// It returns immediately when the interval is not positive.
func (l *Limiter) StartJanitor(ctx context.Context) {
	interval := l.cfg.CleanupInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := l.Cleanup()
				if l.onSweep != nil {
					l.onSweep(removed, l.Clients())
				}
			}
		}
	}()
}

func (l *Limiter) lookup(clientID string) *clientWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientID]
	if !ok {
		w = &clientWindow{expiresAt: l.clock().Add(l.cfg.IdleExpiry)}
		l.windows[clientID] = w
	}
	return w
}

// decide must be called with w.mu held. An instant earlier than the newest
// recorded one is treated as that one, keeping timestamps non-decreasing.
func (w *clientWindow) decide(now time.Time, cfg Config) Decision {
	if n := len(w.timestamps); n > 0 && now.Before(w.timestamps[n-1]) {
		now = w.timestamps[n-1]
	}

	if !now.Before(w.expiresAt) {
		w.timestamps = w.timestamps[:0]
	}

	kept := w.timestamps[:0]
	for _, t := range w.timestamps {
		if now.Sub(t) < cfg.Window {
			kept = append(kept, t)
		}
	}
	w.timestamps = kept

	if len(kept) >= cfg.MaxRequestsPerWindow {
		return Decision{
			Allowed:    false,
			Limit:      cfg.MaxRequestsPerWindow,
			Remaining:  0,
			RetryAfter: retryAfter(kept, now, cfg.Window),
		}
	}

	w.timestamps = append(w.timestamps, now)
	if expires := now.Add(cfg.IdleExpiry); expires.After(w.expiresAt) {
		w.expiresAt = expires
	}

	return Decision{
		Allowed:   true,
		Limit:     cfg.MaxRequestsPerWindow,
		Remaining: cfg.MaxRequestsPerWindow - len(w.timestamps),
	}
}

func retryAfter(timestamps []time.Time, now time.Time, window time.Duration) time.Duration {
	if len(timestamps) == 0 {
		return 0
	}
	wait := window - now.Sub(timestamps[0])
	if wait < 0 {
		return 0
	}
	return wait
}
