package ratelimit

import (
	"context"
	"strings"
	"sync"
)

// MemoryStatsStore keeps decision counters in process memory. Entries never
// expire.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

// MemoryStatsOption configures a MemoryStatsStore.
type MemoryStatsOption func(*MemoryStatsStore)

// WithMemoryTrackKeys enables per-client counters.
func WithMemoryTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev StatsEvent) error {
	route := strings.TrimSpace(ev.Method + " " + ev.Path)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	if route != "" {
		c := s.byRoute[route]
		c.add(ev.Allowed)
		s.byRoute[route] = c
	}

	if s.trackKeys {
		k := s.byKey[ev.ClientID]
		k.add(ev.Allowed)
		s.byKey[ev.ClientID] = k
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
