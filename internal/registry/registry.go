package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a microservice or instance is unknown to the registry.
var ErrNotFound = errors.New("not found")

// Instance status values
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Microservice microservice definition
type Microservice struct {
	ServiceID   string            `json:"serviceId"`
	AppID       string            `json:"appId"`
	ServiceName string            `json:"serviceName"`
	Version     string            `json:"version"`
	Level       string            `json:"level,omitempty"`
	Description string            `json:"description,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// MicroserviceInstance microservice instance
type MicroserviceInstance struct {
	InstanceID  string            `json:"instanceId"`
	ServiceID   string            `json:"serviceId"`
	AppID       string            `json:"appId"`
	ServiceName string            `json:"serviceName"`
	Version     string            `json:"version"`
	HostName    string            `json:"hostName"`
	Endpoints   []string          `json:"endpoints"`
	Status      string            `json:"status"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Clone returns a deep copy of the instance.
func (m *MicroserviceInstance) Clone() *MicroserviceInstance {
	c := *m
	c.Endpoints = append([]string(nil), m.Endpoints...)
	c.Properties = cloneProperties(m.Properties)
	return &c
}

// Clone returns a deep copy of the microservice.
func (m *Microservice) Clone() *Microservice {
	c := *m
	c.Properties = cloneProperties(m.Properties)
	return &c
}

func cloneProperties(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Client is the wire-level registry client
type Client interface {
	// RegisterMicroservice registers a microservice and returns its service id.
	RegisterMicroservice(ctx context.Context, ms *Microservice) (string, error)

	// GetMicroservice returns a microservice by id, or ErrNotFound.
	GetMicroservice(ctx context.Context, serviceID string) (*Microservice, error)

	// RegisterInstance registers an instance and returns its instance id.
	RegisterInstance(ctx context.Context, instance *MicroserviceInstance) (string, error)

	// UnregisterInstance removes an instance.
	UnregisterInstance(ctx context.Context, serviceID, instanceID string) error

	// Heartbeat renews an instance; ErrNotFound when the registry lost it.
	Heartbeat(ctx context.Context, serviceID, instanceID string) error

	// FindInstances returns the up instances of every version of a microservice.
	FindInstances(ctx context.Context, appID, serviceName string) ([]*MicroserviceInstance, error)

	// UpdateInstanceProperties replaces an instance's properties.
	// It reports false when the instance is not registered.
	UpdateInstanceProperties(ctx context.Context, serviceID, instanceID string, properties map[string]string) (bool, error)

	// Watch notifies instance changes of a microservice.
	Watch(ctx context.Context, appID, serviceName string) (Watcher, error)

	// Close releases the connection.
	Close() error
}

// Watcher instance change watcher
type Watcher interface {
	// Next blocks until the instances change.
	Next() ([]*MicroserviceInstance, error)

	// Stop stops watching
	Stop() error
}
