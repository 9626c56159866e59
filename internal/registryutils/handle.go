// Package registryutils owns the process-wide registry connection.
//
// Lifecycle:
//
//	Uninitialized --Init--> Initialized --Run--> Running --Destroy--> Destroyed
//
// Init must complete before any other call. The connection is published with
// an atomic store, so every goroutine that observes Initialized also observes
// the fully built connection. Accessors called outside Initialized/Running
// panic: that is a lifecycle bug in the caller, not a runtime condition.
package registryutils

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
	"github.com/heytom-labs/heytom-registry/internal/registry/cache"
	"github.com/heytom-labs/heytom-registry/internal/serviceregistry"
)

var (
	// ErrUninitializedAccess is returned, or panicked with, when the handle
	// is used before Init or after Destroy.
	ErrUninitializedAccess = errors.New("service registry is not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("service registry is already initialized")
)

// State is the handle lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Initialized
	Running
	Destroyed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Destroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// handle is replaced, never mutated, on every transition.
type handle struct {
	state    State
	registry serviceregistry.ServiceRegistry
}

var current atomic.Pointer[handle]

// Factory builds the registry connection for Init.
type Factory func(cfg *config.Config, log *zap.Logger) (serviceregistry.ServiceRegistry, error)

// NewServiceRegistry is the Factory used by Init.
var NewServiceRegistry Factory = func(cfg *config.Config, log *zap.Logger) (serviceregistry.ServiceRegistry, error) {
	client, err := registry.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return serviceregistry.New(cfg, client, log), nil
}

func load() *handle {
	if h := current.Load(); h != nil {
		return h
	}
	return &handle{state: Uninitialized}
}

// CurrentState returns the lifecycle state.
func CurrentState() State {
	return load().state
}

// Init builds and initializes the process-wide registry connection and
// installs the publish resolver over cfg. It succeeds at most once.
func Init(cfg *config.Config, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	// claim the slot so concurrent Init calls cannot both build a connection
	claim := &handle{state: Uninitialized}
	if !current.CompareAndSwap(nil, claim) {
		return ErrAlreadyInitialized
	}

	sr, err := NewServiceRegistry(cfg, log)
	if err == nil {
		if err = sr.Init(context.Background()); err != nil {
			if client := sr.ServiceRegistryClient(); client != nil {
				err = errors.Join(err, client.Close())
			}
		}
	}
	if err != nil {
		current.CompareAndSwap(claim, nil)
		return fmt.Errorf("init service registry: %w", err)
	}

	installResolver(cfg.Viper(), log)
	current.Store(&handle{state: Initialized, registry: sr})
	log.Info("service registry initialized", zap.String("type", cfg.Registry.Type), zap.String("appId", cfg.AppID))
	return nil
}

// Run starts the connection's background activity.
func Run(ctx context.Context) error {
	h := load()
	switch h.state {
	case Running:
		return nil
	case Initialized:
	default:
		return fmt.Errorf("run in state %s: %w", h.state, ErrUninitializedAccess)
	}

	if err := h.registry.Run(ctx); err != nil {
		return err
	}
	current.CompareAndSwap(h, &handle{state: Running, registry: h.registry})
	return nil
}

// Destroy releases the connection. Later calls other than Destroy fail.
func Destroy() error {
	h := load()
	if h.registry == nil {
		if h.state == Destroyed {
			return nil
		}
		return fmt.Errorf("destroy in state %s: %w", h.state, ErrUninitializedAccess)
	}
	if !current.CompareAndSwap(h, &handle{state: Destroyed}) {
		return Destroy()
	}
	return h.registry.Destroy()
}

// SetServiceRegistry installs sr as the initialized connection, replacing
// whatever is current. Intended for tests.
func SetServiceRegistry(sr serviceregistry.ServiceRegistry) {
	if sr == nil {
		current.Store(nil)
		return
	}
	current.Store(&handle{state: Initialized, registry: sr})
}

func live() (serviceregistry.ServiceRegistry, error) {
	h := load()
	if h.registry == nil {
		return nil, fmt.Errorf("state %s: %w", h.state, ErrUninitializedAccess)
	}
	return h.registry, nil
}

func mustLive() serviceregistry.ServiceRegistry {
	sr, err := live()
	if err != nil {
		panic(err)
	}
	return sr
}

// ServiceRegistry returns the current connection.
func ServiceRegistry() serviceregistry.ServiceRegistry { return mustLive() }

// ServiceRegistryClient returns the wire-level client.
func ServiceRegistryClient() registry.Client {
	return mustLive().ServiceRegistryClient()
}

// InstanceCacheManager returns the instance cache.
func InstanceCacheManager() *cache.InstanceCacheManager {
	return mustLive().InstanceCacheManager()
}

// InstanceVersionCacheManager returns the version-rule cache.
func InstanceVersionCacheManager() *cache.InstanceVersionCacheManager {
	return mustLive().InstanceVersionCacheManager()
}

// MicroserviceManager returns the local microservices.
func MicroserviceManager() *serviceregistry.MicroserviceManager {
	return mustLive().MicroserviceManager()
}

// AppID returns the application id of the local microservices.
func AppID() string {
	return mustLive().MicroserviceManager().AppID()
}

// Microservice returns the primary local microservice.
func Microservice() *registry.Microservice {
	return mustLive().Microservice()
}

// MicroserviceInstance returns the primary local instance.
func MicroserviceInstance() *registry.MicroserviceInstance {
	return mustLive().MicroserviceInstance()
}
