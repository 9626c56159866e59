// Package memory is an in-process registry backend for tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

func init() {
	registry.RegisterFactory("memory", func(*config.Config) (registry.Client, error) {
		return New(), nil
	})
}

// Registry in-memory registry
type Registry struct {
	mu        sync.RWMutex
	services  map[string]*registry.Microservice                    // service id -> microservice
	instances map[string]map[string]*registry.MicroserviceInstance // service id -> instance id -> instance
	watchers  map[string]map[*watcher]struct{}                     // app/service -> watchers
}

var _ registry.Client = (*Registry)(nil)

// New creates an empty registry
func New() *Registry {
	return &Registry{
		services:  make(map[string]*registry.Microservice),
		instances: make(map[string]map[string]*registry.MicroserviceInstance),
		watchers:  make(map[string]map[*watcher]struct{}),
	}
}

func watchKey(appID, serviceName string) string {
	return appID + "/" + serviceName
}

// RegisterMicroservice registers a microservice. Registering the same
// app/name/version again returns the existing id.
func (r *Registry) RegisterMicroservice(_ context.Context, ms *registry.Microservice) (string, error) {
	if ms == nil || ms.ServiceName == "" {
		return "", fmt.Errorf("invalid microservice")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.services {
		if existing.AppID == ms.AppID && existing.ServiceName == ms.ServiceName && existing.Version == ms.Version {
			return id, nil
		}
	}

	stored := ms.Clone()
	if stored.ServiceID == "" {
		stored.ServiceID = uuid.NewString()
	}
	r.services[stored.ServiceID] = stored
	return stored.ServiceID, nil
}

// GetMicroservice returns a microservice by id
func (r *Registry) GetMicroservice(_ context.Context, serviceID string) (*registry.Microservice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ms, ok := r.services[serviceID]
	if !ok {
		return nil, fmt.Errorf("microservice %s: %w", serviceID, registry.ErrNotFound)
	}
	return ms.Clone(), nil
}

// RegisterInstance registers an instance of a known microservice
func (r *Registry) RegisterInstance(_ context.Context, instance *registry.MicroserviceInstance) (string, error) {
	if instance == nil {
		return "", fmt.Errorf("instance is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ms, ok := r.services[instance.ServiceID]
	if !ok {
		return "", fmt.Errorf("microservice %s: %w", instance.ServiceID, registry.ErrNotFound)
	}

	stored := instance.Clone()
	if stored.InstanceID == "" {
		stored.InstanceID = uuid.NewString()
	}
	stored.AppID = ms.AppID
	stored.ServiceName = ms.ServiceName
	stored.Version = ms.Version
	if stored.Status == "" {
		stored.Status = registry.StatusUp
	}

	m, ok := r.instances[stored.ServiceID]
	if !ok {
		m = make(map[string]*registry.MicroserviceInstance)
		r.instances[stored.ServiceID] = m
	}
	m[stored.InstanceID] = stored
	r.notifyLocked(ms.AppID, ms.ServiceName)
	return stored.InstanceID, nil
}

// UnregisterInstance removes an instance
func (r *Registry) UnregisterInstance(_ context.Context, serviceID, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.instances[serviceID]
	if !ok {
		return nil
	}
	if _, ok := m[instanceID]; !ok {
		return nil
	}
	delete(m, instanceID)
	if len(m) == 0 {
		delete(r.instances, serviceID)
	}
	if ms, ok := r.services[serviceID]; ok {
		r.notifyLocked(ms.AppID, ms.ServiceName)
	}
	return nil
}

// Heartbeat reports whether the instance is still registered
func (r *Registry) Heartbeat(_ context.Context, serviceID, instanceID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.instances[serviceID][instanceID]; !ok {
		return fmt.Errorf("instance %s/%s: %w", serviceID, instanceID, registry.ErrNotFound)
	}
	return nil
}

// FindInstances returns the up instances of every version, ordered by instance id
func (r *Registry) FindInstances(_ context.Context, appID, serviceName string) ([]*registry.MicroserviceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*registry.MicroserviceInstance, 0)
	for serviceID, ms := range r.services {
		if ms.AppID != appID || ms.ServiceName != serviceName {
			continue
		}
		for _, inst := range r.instances[serviceID] {
			if inst.Status == registry.StatusUp {
				out = append(out, inst.Clone())
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].InstanceID < out[j].InstanceID
	})
	return out, nil
}

// UpdateInstanceProperties replaces the properties of an instance
func (r *Registry) UpdateInstanceProperties(_ context.Context, serviceID, instanceID string, properties map[string]string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[serviceID][instanceID]
	if !ok {
		return false, nil
	}
	inst.Properties = make(map[string]string, len(properties))
	for k, v := range properties {
		inst.Properties[k] = v
	}
	r.notifyLocked(inst.AppID, inst.ServiceName)
	return true, nil
}

// Watch watches the instances of a microservice
func (r *Registry) Watch(ctx context.Context, appID, serviceName string) (registry.Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &watcher{
		reg:       r,
		key:       watchKey(appID, serviceName),
		appID:     appID,
		service:   serviceName,
		ctx:       watchCtx,
		cancel:    cancel,
		eventChan: make(chan struct{}, 1),
	}

	r.mu.Lock()
	set, ok := r.watchers[w.key]
	if !ok {
		set = make(map[*watcher]struct{})
		r.watchers[w.key] = set
	}
	set[w] = struct{}{}
	r.mu.Unlock()

	return w, nil
}

// Close stops all watchers
func (r *Registry) Close() error {
	r.mu.Lock()
	var all []*watcher
	for _, set := range r.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	r.mu.Unlock()

	for _, w := range all {
		_ = w.Stop()
	}
	return nil
}

func (r *Registry) notifyLocked(appID, serviceName string) {
	for w := range r.watchers[watchKey(appID, serviceName)] {
		select {
		case w.eventChan <- struct{}{}:
		default:
		}
	}
}

// watcher in-memory watcher; coalesces bursts of changes into one event
type watcher struct {
	reg       *Registry
	key       string
	appID     string
	service   string
	ctx       context.Context
	cancel    context.CancelFunc
	eventChan chan struct{}
}

// Next blocks until the instances change
func (w *watcher) Next() ([]*registry.MicroserviceInstance, error) {
	select {
	case <-w.eventChan:
		return w.reg.FindInstances(w.ctx, w.appID, w.service)
	case <-w.ctx.Done():
		return nil, w.ctx.Err()
	}
}

// Stop stops watching
func (w *watcher) Stop() error {
	w.cancel()
	w.reg.mu.Lock()
	delete(w.reg.watchers[w.key], w)
	if len(w.reg.watchers[w.key]) == 0 {
		delete(w.reg.watchers, w.key)
	}
	w.reg.mu.Unlock()
	return nil
}
