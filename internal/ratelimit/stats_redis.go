package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces every stats key.
	DefaultRedisPrefix = "dogshouse:ratelimit"
	defaultStatsTTL    = 24 * time.Hour
)

// RedisStatsStore writes decision counters to Redis hashes:
//
//	<prefix>:total                  allowed/denied, never expires
//	<prefix>:minute:<yyyymmddhhmm>  allowed/denied, expires after ttl
//	<prefix>:route                  "<method> <path>:<allowed|denied>"
//	<prefix>:key:<client>           allowed/denied, only with trackKeys
//
// It never participates in admission; limits stay per-process.
type RedisStatsStore struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	trackKeys bool
}

// RedisStatsOption configures a RedisStatsStore.
type RedisStatsOption func(*RedisStatsStore)

func WithRedisPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if trimmed := strings.Trim(prefix, ": "); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithRedisTTL(ttl time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = ttl }
}

func WithRedisTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: DefaultRedisPrefix,
		ttl:    defaultStatsTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := decisionField(ev.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := s.minuteKey(at)
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys {
		keyKey := s.prefix + ":key:" + ev.ClientID
		pipe.HIncrBy(ctx, keyKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, keyKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Total reads the cumulative counters.
func (s *RedisStatsStore) Total(ctx context.Context) (Counters, error) {
	values, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}
	return parseCounters(values)
}

// Ping checks connectivity; used as a health check.
func (s *RedisStatsStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// CheckHealth satisfies the server health checker contract.
func (s *RedisStatsStore) CheckHealth(ctx context.Context) error {
	return s.Ping(ctx)
}

// Close releases the underlying client.
func (s *RedisStatsStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStatsStore) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func decisionField(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func parseCounters(values map[string]string) (Counters, error) {
	var c Counters
	if raw, ok := values["allowed"]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse allowed counter: %w", err)
		}
		c.Allowed = n
	}
	if raw, ok := values["denied"]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse denied counter: %w", err)
		}
		c.Denied = n
	}
	return c, nil
}
