package config

import (
	"fmt"

	"github.com/marmos91/atipioc/pkg/adapter"
	"github.com/marmos91/atipioc/pkg/adapter/pvwire"
	"github.com/marmos91/atipioc/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete IOC configuration
//   - wireMetrics: Optional pvwire metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the IOC
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, wireMetrics metrics.PVWireMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.PVWire.Enabled {
		adapters = append(adapters, pvwire.New(cfg.Adapters.PVWire, wireMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
