package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/dogshouse/dogshouse/internal/errors"
	"github.com/dogshouse/dogshouse/internal/observability"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that the configuration is valid, the rate limiter can be built and the dogs store is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration valid")

		limiterCfg, err := cfg.RateLimit.LimiterConfig()
		if err == nil {
			_, err = ratelimit.New(limiterCfg)
		}
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Rate limiter configuration invalid", err)
			return
		}
		logger.Info("✅ Rate limiter ready",
			zap.Int("limit", limiterCfg.MaxRequestsPerWindow),
			zap.Duration("window", limiterCfg.Window),
			zap.Duration("idle_expiry", limiterCfg.IdleExpiry))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		db, err := openStoreWith(ctx, cfg.Store)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Store unavailable", err)
			return
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		count, err := db.CountDogs(ctx)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Store query failed", err)
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", db.Driver()), zap.Int("dogs", count))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
