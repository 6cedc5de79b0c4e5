// Package metrics provides Prometheus-backed observability for the verify
// engine's job outcomes and the block-incremental writer's dedup ratio. A
// package-level enabled switch gates a single registry; every constructor
// returns nil when disabled, so callers pass the (possibly nil) metrics
// value straight into a domain type and every method on that value is a
// nil-safe no-op.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	registry *prometheus.Registry
	initOnce sync.Once
)

// InitRegistry turns metrics collection on and creates the Prometheus
// registry NewVerifyMetrics/NewWriterMetrics register against. Calling it
// more than once is a no-op after the first call.
func InitRegistry() *prometheus.Registry {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		enabled.Store(true)
	})
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
