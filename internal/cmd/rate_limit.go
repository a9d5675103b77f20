package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dogshouse/dogshouse/internal/config"
	"github.com/dogshouse/dogshouse/internal/output"
	"github.com/dogshouse/dogshouse/internal/ratelimit"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect rate limiting",
}

var rateLimitConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective rate limit settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		limiterCfg, err := cfg.RateLimit.LimiterConfig()
		if err != nil {
			return err
		}

		lines := []string{
			"Rate Limit",
			"",
			fmt.Sprintf("limit:            %d requests", limiterCfg.MaxRequestsPerWindow),
			fmt.Sprintf("window:           %s", limiterCfg.Window),
			fmt.Sprintf("idle expiry:      %s", limiterCfg.IdleExpiry),
			fmt.Sprintf("cleanup interval: %s", cleanupLabel(limiterCfg.CleanupInterval)),
			fmt.Sprintf("decision stats:   %s", statsLabel(cfg.RateLimitStats)),
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	},
}

var rateLimitStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show allowed and denied totals recorded in Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.RateLimitStats.Enabled {
			return errors.New("rate limit stats are disabled (set rate_limit_stats.enabled)")
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimitStats.RedisAddr,
			Password: cfg.RateLimitStats.RedisPassword,
			DB:       cfg.RateLimitStats.RedisDB,
		})
		stats := ratelimit.NewRedisStatsStore(rdb, ratelimit.WithRedisPrefix(cfg.RateLimitStats.Prefix))
		defer stats.Close() // nolint:errcheck // best-effort cleanup

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		total, err := stats.Total(ctx)
		if err != nil {
			return fmt.Errorf("read stats from %s: %w", cfg.RateLimitStats.RedisAddr, err)
		}

		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(total, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(countersLines(total), "\n"), 0))
		return err
	},
}

func countersLines(c ratelimit.Counters) []string {
	lines := []string{"Rate Limit Decisions", ""}
	all := c.Allowed + c.Denied
	if all == 0 {
		return append(lines, "(no decisions recorded)")
	}
	return append(lines,
		fmt.Sprintf("allowed: %d", c.Allowed),
		fmt.Sprintf("denied:  %d (%.1f%%)", c.Denied, 100*float64(c.Denied)/float64(all)),
	)
}

func cleanupLabel(d time.Duration) string {
	if d <= 0 {
		return "disabled (lazy reset only)"
	}
	return d.String()
}

func statsLabel(c config.RateLimitStatsConfig) string {
	if !c.Enabled {
		return "in-process (logged at shutdown)"
	}
	return "redis " + c.RedisAddr
}

func init() {
	rateLimitStatsCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")

	rateLimitCmd.AddCommand(rateLimitConfigCmd, rateLimitStatsCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
