package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from path. An empty path searches for
// microservice.yaml in the working directory and ./conf; not finding one is
// not an error and defaults plus environment variables apply.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("microservice")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("conf")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v), nil
}

// GetDefaultConfig returns the default configuration
func GetDefaultConfig() *Config {
	return FromViper(newViper())
}

// FromViper builds the typed view of v. v stays attached to the result so
// dynamic keys such as cse.<scheme>.publishPort are read on demand.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppID: v.GetString(KeyAppID),
		Service: ServiceConfig{
			Name:        v.GetString(KeyServiceName),
			Version:     v.GetString(KeyServiceVersion),
			Level:       v.GetString(KeyServiceLevel),
			Description: v.GetString(KeyServiceDescription),
			Properties:  v.GetStringMapString(KeyServiceProperties),
		},
		Instance: InstanceConfig{
			Properties: v.GetStringMapString(KeyInstanceProperties),
		},
		Registry: RegistryConfig{
			Type:                v.GetString(KeyRegistryType),
			Address:             splitList(v.GetString(KeyRegistryAddress)),
			HealthCheckInterval: time.Duration(v.GetInt(KeyHealthCheckInterval)) * time.Second,
			PullInterval:        time.Duration(v.GetInt(KeyPullInterval)) * time.Second,
			Watch:               v.GetBool(KeyWatch),
			CacheSize:           v.GetInt(KeyCacheSize),
		},
		Server: ServerConfig{
			RestAddress: v.GetString(KeyRestAddress),
			GRPCAddress: v.GetString(KeyGRPCAddress),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		v: v,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAppID, "default")
	v.SetDefault(KeyServiceName, "heytom-registry")
	v.SetDefault(KeyServiceVersion, "0.0.1")
	v.SetDefault(KeyServiceLevel, "FRONT")
	v.SetDefault(KeyRegistryType, "memory")
	v.SetDefault(KeyRegistryAddress, "127.0.0.1:8500")
	v.SetDefault(KeyHealthCheckInterval, 30)
	v.SetDefault(KeyPullInterval, 30)
	v.SetDefault(KeyWatch, true)
	v.SetDefault(KeyCacheSize, 1024)
	v.SetDefault(KeyPublishAddress, "")
	v.SetDefault(KeyRestAddress, "0.0.0.0:8080")
	v.SetDefault(KeyGRPCAddress, "0.0.0.0:7070")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
