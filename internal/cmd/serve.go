package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dogshouse/dogshouse/internal/appid"
	"github.com/dogshouse/dogshouse/internal/config"
	errwrap "github.com/dogshouse/dogshouse/internal/errors"
	"github.com/dogshouse/dogshouse/internal/metrics"
	"github.com/dogshouse/dogshouse/internal/observability"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
	"github.com/dogshouse/dogshouse/internal/server"
	"github.com/dogshouse/dogshouse/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	identity *appid.Identity
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.identity == nil || i.identity.BinaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.identity.EnvPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.identity.ConfigName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// limiterHealthChecker reports the limiter as unhealthy when it tracks more
// windows than maxClients, which means idle windows are not being reclaimed.
func limiterHealthChecker(limiter *ratelimit.Limiter, maxClients int) handlers.CheckerFunc {
	return func(ctx context.Context) error {
		if clients := limiter.Clients(); maxClients > 0 && clients > maxClients {
			return errwrap.NewInternalError("rate limiter tracks too many clients")
		}
		return nil
	}
}

const maxTrackedClients = 1_000_000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Every request is admitted by a per-client sliding window rate limiter
(rate_limit.requests_per_second per rate_limit.window, default 10 per 1s).

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (restart to apply rate limit changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		limiterCfg, err := cfg.RateLimit.LimiterConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "invalid rate limit configuration")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Int("rate_limit", limiterCfg.MaxRequestsPerWindow),
			zap.Duration("rate_window", limiterCfg.Window))

		db, err := openStoreWith(ctx, cfg.Store)
		if err != nil {
			logger.Error("Failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
			return errwrap.WrapDatabaseError(ctx, err, "store initialization failed")
		}

		limiter, err := ratelimit.New(limiterCfg, ratelimit.WithSweepHook(metrics.RecordRateLimitSweep))
		if err != nil {
			_ = db.Close()
			return errwrap.WrapConfigInvalid(ctx, err, "invalid rate limit configuration")
		}
		limiter.StartJanitor(ctx)

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", db)
		hm.RegisterChecker("rate_limiter", limiterHealthChecker(limiter, maxTrackedClients))
		hm.RegisterChecker("app_identity", identityHealthChecker{identity: identity})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		handlers.SetAppIdentity(identity)

		opts := []server.Option{
			server.WithLimiter(limiter),
			server.WithDogStore(db),
			server.WithTimeouts(cfg.Server),
			server.WithHealthEndpoints(cfg.Health.Enabled),
		}

		var (
			statsStore  *ratelimit.RedisStatsStore
			memoryStats *ratelimit.MemoryStatsStore
		)
		if cfg.RateLimitStats.Enabled {
			statsStore = newRedisStats(ctx, cfg.RateLimitStats)
			opts = append(opts, server.WithStatsStore(statsStore))
		} else {
			memoryStats = ratelimit.NewMemoryStatsStore()
			opts = append(opts, server.WithStatsStore(memoryStats))
		}

		srv, err := server.New(cfg.Server.Host, cfg.Server.Port, opts...)
		if err != nil {
			_ = db.Close()
			return errwrap.WrapInternal(ctx, err, "server initialization failed")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP server, then stats, metrics and store, then logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if statsStore != nil {
				if err := statsStore.Close(); err != nil {
					logger.Warn("Failed to close rate limit stats client", zap.Error(err))
				}
			}
			if memoryStats != nil {
				logger.Info("Rate limit decisions", decisionSummaryFields(memoryStats)...)
			}
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(shutdownCtx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			cancel()

			timeoutCtx, stop := context.WithTimeout(shutdownCtx, shutdownTimeout)
			defer stop()

			if err := srv.Shutdown(timeoutCtx); err != nil {
				return errwrap.WrapInternal(shutdownCtx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			if _, err := config.Load(viper.GetViper()); err != nil {
				logger.Error("Reloaded config is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration reloaded; restart to apply server and rate limit changes",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		startedAt := time.Now()
		metrics.SetServerStartTime(startedAt.Unix())
		go reportUptime(ctx, startedAt)

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// newRedisStats connects the optional decision counters. An unreachable Redis
// is logged and the store stays attached; failed writes are only counted.
func newRedisStats(ctx context.Context, cfg config.RateLimitStatsConfig) *ratelimit.RedisStatsStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	stats := ratelimit.NewRedisStatsStore(rdb,
		ratelimit.WithRedisPrefix(cfg.Prefix),
		ratelimit.WithRedisTTL(cfg.StatsTTL()),
		ratelimit.WithRedisTrackKeys(cfg.TrackKeys))

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := stats.CheckHealth(pingCtx); err != nil {
		observability.ServerLogger.Warn("Rate limit stats backend unreachable",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err))
	} else {
		observability.ServerLogger.Info("Rate limit stats enabled",
			zap.String("addr", cfg.RedisAddr),
			zap.Bool("track_keys", cfg.TrackKeys))
	}

	return stats
}

// decisionSummaryFields renders in-process decision counters for the
// shutdown log.
func decisionSummaryFields(stats *ratelimit.MemoryStatsStore) []zap.Field {
	total := stats.Total()
	fields := []zap.Field{
		zap.Int64("allowed", total.Allowed),
		zap.Int64("denied", total.Denied),
	}

	byRoute := stats.ByRoute()
	routes := make(map[string]int64, len(byRoute))
	for route, c := range byRoute {
		if c.Denied > 0 {
			routes[route] = c.Denied
		}
	}
	if len(routes) > 0 {
		fields = append(fields, zap.Any("denied_by_route", routes))
	}
	return fields
}

func reportUptime(ctx context.Context, startedAt time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
