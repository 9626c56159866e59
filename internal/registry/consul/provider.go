package consul

import (
	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

func init() {
	registry.RegisterFactory("consul", NewConsulClient)
}

// NewConsulClient creates a consul registry client from configuration.
// The TTL check tolerates two missed heartbeats.
func NewConsulClient(cfg *config.Config) (registry.Client, error) {
	address := "127.0.0.1:8500"
	if len(cfg.Registry.Address) > 0 {
		address = cfg.Registry.Address[0]
	}
	return NewRegistry(&Config{
		Address:        address,
		HealthCheckTTL: 3 * cfg.Registry.HealthCheckInterval,
		WaitTime:       cfg.Registry.PullInterval,
	})
}
