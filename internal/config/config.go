package config

import (
	"time"

	"github.com/spf13/viper"
)

// Configuration keys
const (
	KeyAppID               = "APPLICATION_ID"
	KeyServiceName         = "service_description.name"
	KeyServiceVersion      = "service_description.version"
	KeyServiceLevel        = "service_description.level"
	KeyServiceDescription  = "service_description.description"
	KeyServiceProperties   = "service_description.properties"
	KeyInstanceProperties  = "instance_description.properties"
	KeyRegistryType        = "cse.service.registry.type"
	KeyRegistryAddress     = "cse.service.registry.address"
	KeyHealthCheckInterval = "cse.service.registry.instance.healthCheck.interval"
	KeyPullInterval        = "cse.service.registry.instance.pull.interval"
	KeyWatch               = "cse.service.registry.instance.watch"
	KeyCacheSize           = "cse.service.registry.instance.cache.size"
	KeyPublishAddress      = "cse.service.publishAddress"
	KeyRestAddress         = "cse.rest.address"
	KeyGRPCAddress         = "cse.grpc.address"
	KeyLogLevel            = "log.level"
	KeyLogFormat           = "log.format"
)

// PublishPortKey returns the publish port key of a transport scheme,
// e.g. cse.rest.publishPort.
func PublishPortKey(scheme string) string {
	return "cse." + scheme + ".publishPort"
}

// Config application configuration
type Config struct {
	AppID    string         // application id shared by the local microservices
	Service  ServiceConfig  // local microservice description
	Instance InstanceConfig // local instance description
	Registry RegistryConfig // registry connection
	Server   ServerConfig   // transport bind addresses
	Log      LogConfig      // logging

	v *viper.Viper
}

// ServiceConfig local microservice description
type ServiceConfig struct {
	Name        string
	Version     string
	Level       string
	Description string
	Properties  map[string]string
}

// InstanceConfig local instance description
type InstanceConfig struct {
	Properties map[string]string
}

// RegistryConfig registry connection configuration
type RegistryConfig struct {
	Type                string        // memory, consul, etcd
	Address             []string      // registry addresses
	HealthCheckInterval time.Duration // heartbeat interval
	PullInterval        time.Duration // instance cache TTL
	Watch               bool          // watch instance changes
	CacheSize           int           // max cached services
}

// ServerConfig transport bind addresses, keyed by scheme
type ServerConfig struct {
	RestAddress string
	GRPCAddress string
}

// Transports returns scheme -> bound address for every configured transport.
func (s ServerConfig) Transports() map[string]string {
	out := make(map[string]string, 2)
	if s.RestAddress != "" {
		out["rest"] = s.RestAddress
	}
	if s.GRPCAddress != "" {
		out["grpc"] = s.GRPCAddress
	}
	return out
}

// LogConfig logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// Viper returns the dynamic configuration source backing c.
func (c *Config) Viper() *viper.Viper {
	return c.v
}
