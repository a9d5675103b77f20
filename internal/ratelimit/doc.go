// Package ratelimit implements a per-client sliding-window rate limiter.
//
// Each client identity owns a short history of admission instants. A request
// is admitted when fewer than MaxRequestsPerWindow of those instants fall
// strictly inside the trailing Window; admitted requests are appended to the
// history. Histories of clients silent for IdleExpiry are discarded, lazily on
// the next access and actively by the janitor.
//
// Decision counters can be reported through a StatsStore (memory or Redis).
// Stats are observational only; admission is always local to the process.
package ratelimit
