package ratelimit

import (
	"context"
	"time"
)

// StatsEvent describes one admission decision for reporting.
//
// Method and Path are recorded per route; ClientID only when the store tracks
// keys, since client identities are unbounded.
type StatsEvent struct {
	ClientID string
	Allowed  bool
	Method   string
	Path     string
	At       time.Time
}

// StatsStore records admission decisions. Recording is best-effort and never
// affects the decision itself.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters aggregates decisions.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}
