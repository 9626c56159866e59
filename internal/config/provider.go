package config

import (
	"os"

	"github.com/google/wire"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "REGISTRY_CONFIG"

// ProviderSet config providers
var ProviderSet = wire.NewSet(
	ProvideConfig,
)

// ProvideConfig loads configuration from $REGISTRY_CONFIG or microservice.yaml.
func ProvideConfig() (*Config, error) {
	return LoadConfig(os.Getenv(EnvConfigPath))
}
