// Package etcd provides the etcd-based implementation of registry.Client.
//
// Layout:
//
//	/servicecomb/microservices/{serviceId}                    JSON Microservice
//	/servicecomb/instances/{appId}/{serviceName}/{instanceId} JSON MicroserviceInstance
//
// Instances are attached to a TTL lease. Each heartbeat renews the lease once,
// so a crashed process disappears after the TTL.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

const (
	microservicePrefix = "/servicecomb/microservices/"
	instancePrefix     = "/servicecomb/instances/"
)

func init() {
	registry.RegisterFactory("etcd", func(cfg *config.Config) (registry.Client, error) {
		ttl := int64(3 * cfg.Registry.HealthCheckInterval / time.Second)
		return NewEtcdRegistry(cfg.Registry.Address, ttl)
	})
}

type lease struct {
	key string
	id  clientv3.LeaseID
}

// EtcdRegistry implements registry.Client using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	ttl    int64            // instance lease TTL in seconds

	mu     sync.Mutex
	leases map[string]lease // instance id -> lease
}

var _ registry.Client = (*EtcdRegistry)(nil)

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, ttl int64) (*EtcdRegistry, error) {
	if ttl <= 0 {
		ttl = 90
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &EtcdRegistry{client: c, ttl: ttl, leases: make(map[string]lease)}, nil
}

func instanceKey(appID, serviceName, instanceID string) string {
	return instanceServicePrefix(appID, serviceName) + instanceID
}

func instanceServicePrefix(appID, serviceName string) string {
	return instancePrefix + appID + "/" + serviceName + "/"
}

// RegisterMicroservice stores the microservice; the id is derived from
// app/name/version.
func (r *EtcdRegistry) RegisterMicroservice(ctx context.Context, ms *registry.Microservice) (string, error) {
	if ms == nil || ms.ServiceName == "" {
		return "", fmt.Errorf("microservice is nil or unnamed")
	}
	stored := ms.Clone()
	if stored.ServiceID == "" {
		stored.ServiceID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ms.AppID+"/"+ms.ServiceName+"/"+ms.Version)).String()
	}

	val, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	if _, err := r.client.Put(ctx, microservicePrefix+stored.ServiceID, string(val)); err != nil {
		return "", fmt.Errorf("failed to register microservice: %w", err)
	}
	return stored.ServiceID, nil
}

// GetMicroservice reads a microservice by id.
func (r *EtcdRegistry) GetMicroservice(ctx context.Context, serviceID string) (*registry.Microservice, error) {
	resp, err := r.client.Get(ctx, microservicePrefix+serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get microservice: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("microservice %s: %w", serviceID, registry.ErrNotFound)
	}

	var ms registry.Microservice
	if err := json.Unmarshal(resp.Kvs[0].Value, &ms); err != nil {
		return nil, fmt.Errorf("failed to decode microservice %s: %w", serviceID, err)
	}
	return &ms, nil
}

// RegisterInstance puts the instance under a fresh TTL lease.
//
// The lease is not kept alive in the background; Heartbeat renews it.
func (r *EtcdRegistry) RegisterInstance(ctx context.Context, instance *registry.MicroserviceInstance) (string, error) {
	if instance == nil {
		return "", fmt.Errorf("instance is nil")
	}
	stored := instance.Clone()
	if stored.InstanceID == "" {
		stored.InstanceID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = registry.StatusUp
	}

	grant, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return "", fmt.Errorf("failed to grant lease: %w", err)
	}

	val, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	key := instanceKey(stored.AppID, stored.ServiceName, stored.InstanceID)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return "", fmt.Errorf("failed to register instance: %w", err)
	}

	r.mu.Lock()
	r.leases[stored.InstanceID] = lease{key: key, id: grant.ID}
	r.mu.Unlock()
	return stored.InstanceID, nil
}

// UnregisterInstance deletes the instance and revokes its lease.
func (r *EtcdRegistry) UnregisterInstance(ctx context.Context, _, instanceID string) error {
	r.mu.Lock()
	l, ok := r.leases[instanceID]
	delete(r.leases, instanceID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := r.client.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("failed to unregister instance: %w", err)
	}
	if _, err := r.client.Revoke(ctx, l.id); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

// Heartbeat renews the instance lease once.
func (r *EtcdRegistry) Heartbeat(ctx context.Context, serviceID, instanceID string) error {
	r.mu.Lock()
	l, ok := r.leases[instanceID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("instance %s/%s: %w", serviceID, instanceID, registry.ErrNotFound)
	}

	if _, err := r.client.KeepAliveOnce(ctx, l.id); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			r.mu.Lock()
			delete(r.leases, instanceID)
			r.mu.Unlock()
			return fmt.Errorf("instance %s/%s: %w", serviceID, instanceID, registry.ErrNotFound)
		}
		return err
	}
	return nil
}

// FindInstances lists the up instances of a microservice.
func (r *EtcdRegistry) FindInstances(ctx context.Context, appID, serviceName string) ([]*registry.MicroserviceInstance, error) {
	resp, err := r.client.Get(ctx, instanceServicePrefix(appID, serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to find instances: %w", err)
	}

	instances := make([]*registry.MicroserviceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance registry.MicroserviceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		if instance.Status == registry.StatusUp {
			instances = append(instances, &instance)
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].InstanceID < instances[j].InstanceID
	})
	return instances, nil
}

// UpdateInstanceProperties rewrites the instance value, keeping its lease.
func (r *EtcdRegistry) UpdateInstanceProperties(ctx context.Context, _, instanceID string, properties map[string]string) (bool, error) {
	r.mu.Lock()
	l, ok := r.leases[instanceID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	resp, err := r.client.Get(ctx, l.key)
	if err != nil {
		return false, fmt.Errorf("failed to get instance: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}

	var instance registry.MicroserviceInstance
	if err := json.Unmarshal(resp.Kvs[0].Value, &instance); err != nil {
		return false, fmt.Errorf("failed to decode instance %s: %w", instanceID, err)
	}
	instance.Properties = properties

	val, err := json.Marshal(&instance)
	if err != nil {
		return false, err
	}
	if _, err := r.client.Put(ctx, l.key, string(val), clientv3.WithIgnoreLease()); err != nil {
		return false, fmt.Errorf("failed to update instance: %w", err)
	}
	return true, nil
}

// Watch emits the full instance list whenever a key under the service
// prefix changes.
func (r *EtcdRegistry) Watch(ctx context.Context, appID, serviceName string) (registry.Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	return &watcher{
		reg:         r,
		ctx:         watchCtx,
		cancel:      cancel,
		appID:       appID,
		serviceName: serviceName,
		watchChan:   r.client.Watch(watchCtx, instanceServicePrefix(appID, serviceName), clientv3.WithPrefix()),
	}, nil
}

// Close closes the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

type watcher struct {
	reg         *EtcdRegistry
	ctx         context.Context
	cancel      context.CancelFunc
	appID       string
	serviceName string
	watchChan   clientv3.WatchChan
}

// Next re-fetches the instance list on the next watch response.
func (w *watcher) Next() ([]*registry.MicroserviceInstance, error) {
	select {
	case resp, ok := <-w.watchChan:
		if !ok {
			return nil, context.Canceled
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return w.reg.FindInstances(w.ctx, w.appID, w.serviceName)
	case <-w.ctx.Done():
		return nil, w.ctx.Err()
	}
}

// Stop stops watching.
func (w *watcher) Stop() error {
	w.cancel()
	return nil
}
