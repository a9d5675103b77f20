// Package config decodes and validates the dogshouse configuration. Values
// come from viper, which layers defaults, an optional YAML file and
// DOGSHOUSE_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/dogshouse/dogshouse/internal/appid"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
)

const defaultAppName = "dogshouse"

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// Configure prepares v for env overrides and registers every default, so
// that nested keys such as rate_limit.window map to DOGSHOUSE_RATE_LIMIT_WINDOW.
func Configure(v *viper.Viper, identity *appid.Identity) {
	v.SetEnvPrefix(identity.ViperEnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// SetDefaults registers the default value of every config key.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Rate limiting
	v.SetDefault("rate_limit.requests_per_second", ratelimit.DefaultMaxRequestsPerWindow)
	v.SetDefault("rate_limit.window", ratelimit.DefaultWindow.String())
	// Zero lets the limiter derive idle expiry from the window.
	v.SetDefault("rate_limit.idle_expiry", "0s")
	v.SetDefault("rate_limit.cleanup_interval", ratelimit.DefaultCleanupInterval.String())

	v.SetDefault("rate_limit_stats.enabled", false)
	v.SetDefault("rate_limit_stats.redis_addr", "127.0.0.1:6379")
	v.SetDefault("rate_limit_stats.redis_password", "")
	v.SetDefault("rate_limit_stats.redis_db", 0)
	v.SetDefault("rate_limit_stats.prefix", ratelimit.DefaultRedisPrefix)
	v.SetDefault("rate_limit_stats.ttl", "24h")
	v.SetDefault("rate_limit_stats.track_keys", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Load decodes the merged settings of v into a validated Config and makes it
// the current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}
	if _, err := c.RateLimit.LimiterConfig(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if c.RateLimitStats.Enabled && strings.TrimSpace(c.RateLimitStats.RedisAddr) == "" {
		return fmt.Errorf("rate_limit_stats.redis_addr is required when stats are enabled")
	}
	if c.RateLimitStats.TTL < 0 {
		return fmt.Errorf("rate_limit_stats.ttl must not be negative: %s", c.RateLimitStats.TTL)
	}
	return nil
}

// LimiterConfig converts the settings into a validated limiter configuration.
func (c RateLimitConfig) LimiterConfig() (ratelimit.Config, error) {
	cfg := ratelimit.Config{
		MaxRequestsPerWindow: c.RequestsPerSecond,
		Window:               c.Window,
		IdleExpiry:           c.IdleExpiry,
		CleanupInterval:      c.CleanupInterval,
	}.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return ratelimit.Config{}, err
	}
	return cfg, nil
}

// StatsTTL returns the Redis bucket lifetime, defaulting to a day.
func (c RateLimitStatsConfig) StatsTTL() time.Duration {
	if c.TTL <= 0 {
		return 24 * time.Hour
	}
	return c.TTL
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(defaultAppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(defaultAppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + defaultAppName + ".db"
	}
	return filepath.Join(dataDir, defaultAppName+".db")
}
