// Package metrics names and emits the service's telemetry. Every function is
// a no-op until observability.InitMetrics has run.
package metrics

import (
	"time"

	"github.com/dogshouse/dogshouse/internal/observability"
)

func counter(name string, value float64, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, value, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(name, value, labels)
	}
}

func histogram(name string, d time.Duration, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(name, d, labels)
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
