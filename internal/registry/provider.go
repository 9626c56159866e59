package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/heytom-labs/heytom-registry/internal/config"
)

// ErrUnsupportedType is returned for an unknown cse.service.registry.type.
var ErrUnsupportedType = errors.New("unsupported registry type")

// ClientFactory registry client factory
type ClientFactory func(*config.Config) (Client, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ClientFactory)
)

// RegisterFactory registers a client factory for a registry type
func RegisterFactory(registryType string, factory ClientFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[registryType] = factory
}

// NewClient creates the client of cfg.Registry.Type
func NewClient(cfg *config.Config) (Client, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Registry.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Registry.Type)
	}
	return factory(cfg)
}
