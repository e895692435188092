// Package metrics defines the observability interfaces of the IOC.
//
// Every interface has a no-op implementation used when metrics are disabled.
// Prometheus implementations live in the prometheus subpackage and register
// on the global registry created by InitRegistry.
//
// Usage:
//
//	metrics.InitRegistry()
//	wireMetrics := prometheus.NewPVWireMetrics()
//
//	// Or nil for no-op behavior
//	adapter := pvwire.New(config, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry for all IOC metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors attached. Later calls are no-ops.
//
// Without it, GetRegistry returns nil and every constructor in the
// prometheus subpackage returns a no-op implementation.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
