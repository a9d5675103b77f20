package config

import (
	"time"
)

// Config is the complete application configuration. It is decoded from the
// merged viper settings: defaults, then the YAML file, then DOGSHOUSE_* env.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Store          StoreConfig          `mapstructure:"store"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	RateLimitStats RateLimitStatsConfig `mapstructure:"rate_limit_stats"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Health         HealthConfig         `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RateLimitConfig sizes the per-client sliding window.
type RateLimitConfig struct {
	// RequestsPerSecond is the number of requests admitted per Window.
	// The name follows the default one second window.
	RequestsPerSecond int `mapstructure:"requests_per_second"`

	Window time.Duration `mapstructure:"window"`

	// IdleExpiry is how long an unused client window is kept. Zero means
	// twice the window.
	IdleExpiry time.Duration `mapstructure:"idle_expiry"`

	// CleanupInterval is the janitor period. Zero disables the janitor and
	// relies on lazy resets.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RateLimitStatsConfig controls the optional decision counters in Redis.
type RateLimitStatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	TrackKeys     bool          `mapstructure:"track_keys"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated exporter port. /metrics on the main port proxies it.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
