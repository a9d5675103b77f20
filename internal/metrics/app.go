package metrics

import (
	"time"
)

// Application-level metric names
const (
	OperationsTotal       = "app_operations_total"
	OperationsErrorsTotal = "app_operations_errors_total"

	ActiveConnections = "app_active_connections"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordOperation counts a dogs operation such as dogs_list or dogs_create.
func RecordOperation(operation string, success bool) {
	counter(OperationsTotal, 1, map[string]string{
		"operation": operation,
		"status":    outcome(success, "success", "failure"),
	})
}

// RecordOperationError counts a rejected operation by reason.
func RecordOperationError(operation string, errorType string) {
	counter(OperationsErrorsTotal, 1, map[string]string{
		"operation":  operation,
		"error_type": errorType,
	})
}

// SetActiveConnections sets the number of open client connections.
func SetActiveConnections(count int64) {
	gauge(ActiveConnections, float64(count), nil)
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp), nil)
}

// SetServerUptime records seconds since start.
func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds), nil)
}
