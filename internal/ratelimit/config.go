package ratelimit

import (
	"errors"
	"time"
)

const (
	// DefaultMaxRequestsPerWindow is the admission ceiling per client per window.
	DefaultMaxRequestsPerWindow = 10

	// DefaultWindow is the trailing interval over which requests are counted.
	DefaultWindow = time.Second

	// DefaultCleanupInterval is how often the janitor sweeps idle windows.
	DefaultCleanupInterval = time.Minute
)

var (
	ErrInvalidLimit       = errors.New("ratelimit: max requests per window must be positive")
	ErrInvalidWindow      = errors.New("ratelimit: window must be positive")
	ErrIdleExpiryTooShort = errors.New("ratelimit: idle expiry must not be shorter than the window")
)

// Config controls the sliding window applied to every client.
type Config struct {
	// MaxRequestsPerWindow is the number of requests admitted per client
	// within any trailing Window.
	MaxRequestsPerWindow int

	// Window is the length of the trailing interval.
	Window time.Duration

	// IdleExpiry is how long a client may stay silent before its history is
	// discarded. Zero means twice the window.
	IdleExpiry time.Duration

	// CleanupInterval is the janitor period. Zero disables the janitor; idle
	// windows are then only reset when their client is seen again.
	CleanupInterval time.Duration
}

// DefaultConfig returns 10 requests per second with a 2s idle expiry.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerWindow: DefaultMaxRequestsPerWindow,
		Window:               DefaultWindow,
		IdleExpiry:           2 * DefaultWindow,
		CleanupInterval:      DefaultCleanupInterval,
	}
}

// WithDefaults fills zero durations. MaxRequestsPerWindow is left untouched so
// that an explicit zero is still rejected by Validate.
func (c Config) WithDefaults() Config {
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.IdleExpiry == 0 {
		c.IdleExpiry = 2 * c.Window
	}
	return c
}

// Validate reports whether the config can drive a limiter.
func (c Config) Validate() error {
	if c.MaxRequestsPerWindow <= 0 {
		return ErrInvalidLimit
	}
	if c.Window <= 0 {
		return ErrInvalidWindow
	}
	if c.IdleExpiry < c.Window {
		return ErrIdleExpiryTooShort
	}
	return nil
}
