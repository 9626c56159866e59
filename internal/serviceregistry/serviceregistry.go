// Package serviceregistry is the live session with the service registry:
// it registers the local microservices, keeps their instances alive, and
// answers instance lookups through the instance caches.
package serviceregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
	"github.com/heytom-labs/heytom-registry/internal/registry/cache"
)

// ErrAmbiguousLocalInstance is returned by an unscoped instance update when
// more than one local microservice is registered.
var ErrAmbiguousLocalInstance = errors.New("ambiguous local instance: more than one local microservice")

// ServiceRegistry is a registry connection.
type ServiceRegistry interface {
	// Init builds the local microservice definitions and caches.
	Init(ctx context.Context) error

	// Run registers the local instances and starts heartbeats and watches.
	Run(ctx context.Context) error

	// Destroy stops background work, unregisters and releases the client.
	Destroy() error

	ServiceRegistryClient() registry.Client
	InstanceCacheManager() *cache.InstanceCacheManager
	InstanceVersionCacheManager() *cache.InstanceVersionCacheManager
	MicroserviceManager() *MicroserviceManager

	// Microservice returns the primary local microservice.
	Microservice() *registry.Microservice

	// MicroserviceInstance returns the primary local instance.
	MicroserviceInstance() *registry.MicroserviceInstance

	FindServiceInstance(ctx context.Context, appID, serviceName, versionRule string) ([]*registry.MicroserviceInstance, error)
	UpdateInstanceProperties(ctx context.Context, properties map[string]string) (bool, error)
	UpdateMicroserviceInstanceProperties(ctx context.Context, microserviceName string, properties map[string]string) (bool, error)
	GetRemoteMicroservice(ctx context.Context, microserviceID string) (*registry.Microservice, error)
}

// RemoteServiceRegistry is the ServiceRegistry over a registry.Client.
type RemoteServiceRegistry struct {
	cfg    *config.Config
	client registry.Client
	log    *zap.Logger

	manager   *MicroserviceManager
	instances *cache.InstanceCacheManager
	versions  *cache.InstanceVersionCacheManager
	limiter   *rate.Limiter

	mu       sync.Mutex
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	watching map[string]struct{}
	closed   bool
}

var _ ServiceRegistry = (*RemoteServiceRegistry)(nil)

// New creates a registry connection. It does nothing until Init.
func New(cfg *config.Config, client registry.Client, log *zap.Logger) *RemoteServiceRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteServiceRegistry{
		cfg:      cfg,
		client:   client,
		log:      log.Named("serviceregistry"),
		limiter:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		watching: make(map[string]struct{}),
	}
}

// Init builds the primary microservice from configuration.
func (r *RemoteServiceRegistry) Init(context.Context) error {
	if r.client == nil {
		return fmt.Errorf("registry client is nil")
	}
	if r.cfg.Service.Name == "" {
		return fmt.Errorf("microservice name is not configured")
	}

	r.manager = NewMicroserviceManager(r.cfg.AppID)
	r.manager.Add(&registry.Microservice{
		AppID:       r.cfg.AppID,
		ServiceName: r.cfg.Service.Name,
		Version:     r.cfg.Service.Version,
		Level:       r.cfg.Service.Level,
		Description: r.cfg.Service.Description,
		Properties:  r.cfg.Service.Properties,
	}, &registry.MicroserviceInstance{
		InstanceID: uuid.NewString(),
		Status:     registry.StatusUp,
		Properties: r.cfg.Instance.Properties,
	})

	r.instances = cache.NewInstanceCacheManager(r.client, r.cfg.Registry.CacheSize, r.cfg.Registry.PullInterval)
	r.versions = cache.NewInstanceVersionCacheManager(r.instances)
	return nil
}

// Run registers every local microservice and starts background work bound
// to ctx. Registration failures are logged and retried by the heartbeat loop.
func (r *RemoteServiceRegistry) Run(ctx context.Context) error {
	if r.manager == nil {
		return fmt.Errorf("service registry is not initialized")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("service registry is destroyed")
	}
	if r.group != nil {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.group, r.groupCtx = errgroup.WithContext(runCtx)
	r.cancel = cancel
	r.mu.Unlock()

	for _, name := range r.manager.Names() {
		if err := r.register(runCtx, name); err != nil {
			r.log.Warn("register microservice failed, will retry", zap.String("microservice", name), zap.Error(err))
		}
	}

	r.group.Go(func() error {
		r.heartbeatLoop(r.groupCtx)
		return nil
	})
	return nil
}

// Destroy stops background work and unregisters the local instances.
// It is safe to call more than once.
func (r *RemoteServiceRegistry) Destroy() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, group := r.cancel, r.group
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = group.Wait()
	}

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	var errs []error
	if r.manager != nil {
		for _, name := range r.manager.Names() {
			if !r.manager.Registered(name) {
				continue
			}
			inst, _ := r.manager.Instance(name)
			if err := r.client.UnregisterInstance(ctx, inst.ServiceID, inst.InstanceID); err != nil {
				errs = append(errs, fmt.Errorf("unregister %s: %w", name, err))
				continue
			}
			r.manager.setUnregistered(name)
			r.log.Info("instance unregistered", zap.String("microservice", name), zap.String("instanceId", inst.InstanceID))
		}
	}
	if r.instances != nil {
		r.instances.Purge()
	}
	if err := r.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	return errors.Join(errs...)
}

// ServiceRegistryClient returns the wire-level client.
func (r *RemoteServiceRegistry) ServiceRegistryClient() registry.Client { return r.client }

// InstanceCacheManager returns the instance cache.
func (r *RemoteServiceRegistry) InstanceCacheManager() *cache.InstanceCacheManager {
	return r.instances
}

// InstanceVersionCacheManager returns the version-rule cache.
func (r *RemoteServiceRegistry) InstanceVersionCacheManager() *cache.InstanceVersionCacheManager {
	return r.versions
}

// MicroserviceManager returns the local microservices.
func (r *RemoteServiceRegistry) MicroserviceManager() *MicroserviceManager { return r.manager }

// Microservice returns a copy of the primary local microservice.
func (r *RemoteServiceRegistry) Microservice() *registry.Microservice {
	name, ok := r.manager.primary()
	if !ok {
		return nil
	}
	ms, _ := r.manager.Microservice(name)
	return ms
}

// MicroserviceInstance returns a copy of the primary local instance.
func (r *RemoteServiceRegistry) MicroserviceInstance() *registry.MicroserviceInstance {
	name, ok := r.manager.primary()
	if !ok {
		return nil
	}
	inst, _ := r.manager.Instance(name)
	return inst
}

// FindServiceInstance returns the instances matching versionRule. While
// running with watch enabled, the first lookup of a service starts a watch
// that keeps its cache entry current.
func (r *RemoteServiceRegistry) FindServiceInstance(ctx context.Context, appID, serviceName, versionRule string) ([]*registry.MicroserviceInstance, error) {
	instances, err := r.versions.Instances(ctx, appID, serviceName, versionRule)
	if err != nil {
		return nil, err
	}
	r.ensureWatch(appID, serviceName)
	return instances, nil
}

// UpdateInstanceProperties updates the properties of the only local instance.
func (r *RemoteServiceRegistry) UpdateInstanceProperties(ctx context.Context, properties map[string]string) (bool, error) {
	names := r.manager.Names()
	switch len(names) {
	case 0:
		return false, nil
	case 1:
		return r.UpdateMicroserviceInstanceProperties(ctx, names[0], properties)
	default:
		return false, fmt.Errorf("%w: %v", ErrAmbiguousLocalInstance, names)
	}
}

// UpdateMicroserviceInstanceProperties updates the properties of a named
// local microservice's instance. It reports false while the instance is not
// registered or when the registry refuses the update.
func (r *RemoteServiceRegistry) UpdateMicroserviceInstanceProperties(ctx context.Context, microserviceName string, properties map[string]string) (bool, error) {
	inst, ok := r.manager.Instance(microserviceName)
	if !ok {
		return false, fmt.Errorf("local microservice %s: %w", microserviceName, registry.ErrNotFound)
	}
	if !r.manager.Registered(microserviceName) {
		return false, nil
	}

	ok, err := r.client.UpdateInstanceProperties(ctx, inst.ServiceID, inst.InstanceID, properties)
	if err != nil || !ok {
		return ok, err
	}
	r.manager.UpdateInstance(microserviceName, func(i *registry.MicroserviceInstance) {
		i.Properties = make(map[string]string, len(properties))
		for k, v := range properties {
			i.Properties[k] = v
		}
	})
	r.log.Info("instance properties updated", zap.String("microservice", microserviceName), zap.Any("properties", properties))
	return true, nil
}

// GetRemoteMicroservice looks up a microservice by id in the registry.
func (r *RemoteServiceRegistry) GetRemoteMicroservice(ctx context.Context, microserviceID string) (*registry.Microservice, error) {
	return r.client.GetMicroservice(ctx, microserviceID)
}

func (r *RemoteServiceRegistry) register(ctx context.Context, name string) error {
	ms, ok := r.manager.Microservice(name)
	if !ok {
		return fmt.Errorf("local microservice %s: %w", name, registry.ErrNotFound)
	}
	serviceID, err := r.client.RegisterMicroservice(ctx, ms)
	if err != nil {
		return err
	}

	inst, _ := r.manager.Instance(name)
	inst.ServiceID = serviceID
	instanceID, err := r.client.RegisterInstance(ctx, inst)
	if err != nil {
		return err
	}

	r.manager.setRegistered(name, serviceID, instanceID)
	r.log.Info("instance registered",
		zap.String("microservice", name),
		zap.String("serviceId", serviceID),
		zap.String("instanceId", instanceID),
		zap.Strings("endpoints", inst.Endpoints))
	return nil
}

func (r *RemoteServiceRegistry) heartbeatLoop(ctx context.Context) {
	interval := r.cfg.Registry.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

func (r *RemoteServiceRegistry) heartbeat(ctx context.Context) {
	for _, name := range r.manager.Names() {
		if r.manager.Registered(name) {
			inst, _ := r.manager.Instance(name)
			err := r.client.Heartbeat(ctx, inst.ServiceID, inst.InstanceID)
			if err == nil {
				continue
			}
			if !errors.Is(err, registry.ErrNotFound) {
				r.log.Warn("heartbeat failed", zap.String("microservice", name), zap.Error(err))
				continue
			}
			r.log.Warn("instance lost by registry, re-registering", zap.String("microservice", name))
			r.manager.setUnregistered(name)
		}

		if !r.limiter.Allow() {
			continue
		}
		if err := r.register(ctx, name); err != nil {
			r.log.Warn("register microservice failed", zap.String("microservice", name), zap.Error(err))
		}
	}
}

func (r *RemoteServiceRegistry) ensureWatch(appID, serviceName string) {
	if !r.cfg.Registry.Watch {
		return
	}

	key := appID + "/" + serviceName
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group == nil || r.closed {
		return
	}
	if _, ok := r.watching[key]; ok {
		return
	}
	r.watching[key] = struct{}{}

	ctx := r.groupCtx
	r.group.Go(func() error {
		r.watch(ctx, appID, serviceName)
		return nil
	})
}

func (r *RemoteServiceRegistry) watch(ctx context.Context, appID, serviceName string) {
	w, err := r.client.Watch(ctx, appID, serviceName)
	if err != nil {
		r.log.Warn("watch failed", zap.String("app", appID), zap.String("microservice", serviceName), zap.Error(err))
		r.mu.Lock()
		delete(r.watching, appID+"/"+serviceName)
		r.mu.Unlock()
		return
	}
	defer w.Stop()

	for {
		instances, err := w.Next()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			r.instances.Invalidate(appID, serviceName)
			return
		}
		if err != nil {
			r.log.Debug("watch event error", zap.String("microservice", serviceName), zap.Error(err))
			r.instances.Invalidate(appID, serviceName)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.instances.Update(appID, serviceName, instances)
	}
}
