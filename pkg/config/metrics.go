package config

import (
	"github.com/marmos91/atipioc/pkg/metrics"
	promMetrics "github.com/marmos91/atipioc/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// PVWire observes the pvwire adapter (never nil, uses noop if disabled)
	PVWire metrics.PVWireMetrics

	// Startup observes the startup sequence (never nil)
	Startup metrics.StartupMetrics

	// Mirror observes mirror updates and autosave writes (never nil)
	Mirror metrics.MirrorMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, reporting ready() on /healthz
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Parameters:
//   - cfg: The complete IOC configuration
//   - ready: Readiness check for /healthz (nil means always ready)
func InitializeMetrics(cfg *Config, ready func() bool) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			PVWire:  metrics.NewNoopPVWireMetrics(),
			Startup: metrics.NewNoopStartupMetrics(),
			Mirror:  metrics.NewNoopMirrorMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:  cfg.Metrics.Port,
		Ready: ready,
	})

	return &MetricsResult{
		Server:  server,
		PVWire:  promMetrics.NewPVWireMetrics(),
		Startup: promMetrics.NewStartupMetrics(),
		Mirror:  promMetrics.NewMirrorMetrics(),
	}
}
