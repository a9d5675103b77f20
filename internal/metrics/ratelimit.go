package metrics

// Rate limiter metric names
const (
	RateLimitDecisionsTotal = "ratelimit_decisions_total"
	RateLimitTrackedClients = "ratelimit_tracked_clients"
	RateLimitEvictionsTotal = "ratelimit_evictions_total"
	RateLimitStatsErrors    = "ratelimit_stats_errors_total"
)

// RecordRateLimitDecision counts an admit or deny decision for an endpoint pattern.
func RecordRateLimitDecision(endpoint string, allowed bool) {
	counter(RateLimitDecisionsTotal, 1, map[string]string{
		"endpoint": endpoint,
		"decision": outcome(allowed, "allowed", "denied"),
	})
}

// RecordRateLimitSweep records a janitor pass.
func RecordRateLimitSweep(removed, remaining int) {
	if removed > 0 {
		counter(RateLimitEvictionsTotal, float64(removed), nil)
	}
	gauge(RateLimitTrackedClients, float64(remaining), nil)
}

// RecordRateLimitStatsError counts failed writes to the decision stats sink.
func RecordRateLimitStatsError() {
	counter(RateLimitStatsErrors, 1, nil)
}
