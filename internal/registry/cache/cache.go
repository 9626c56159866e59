// Package cache keeps instance lists fetched from the registry and selects
// instances by version rule.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

// InstanceCacheManager caches FindInstances results per app/service.
// Entries expire after the pull interval and are dropped on watch events.
type InstanceCacheManager struct {
	client registry.Client
	cache  *expirable.LRU[string, []*registry.MicroserviceInstance]
	group  singleflight.Group
}

// NewInstanceCacheManager creates a cache of up to size services whose
// entries live for ttl. size <= 0 means unbounded.
func NewInstanceCacheManager(client registry.Client, size int, ttl time.Duration) *InstanceCacheManager {
	if size < 0 {
		size = 0
	}
	return &InstanceCacheManager{
		client: client,
		cache:  expirable.NewLRU[string, []*registry.MicroserviceInstance](size, nil, ttl),
	}
}

func cacheKey(appID, serviceName string) string {
	return appID + "/" + serviceName
}

// Instances returns the instances of a microservice, fetching on miss.
// The result is never nil on success.
func (m *InstanceCacheManager) Instances(ctx context.Context, appID, serviceName string) ([]*registry.MicroserviceInstance, error) {
	key := cacheKey(appID, serviceName)
	if instances, ok := m.cache.Get(key); ok {
		return copyInstances(instances), nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		instances, err := m.client.FindInstances(ctx, appID, serviceName)
		if err != nil {
			return nil, err
		}
		m.cache.Add(key, instances)
		return instances, nil
	})
	if err != nil {
		return nil, err
	}
	return copyInstances(v.([]*registry.MicroserviceInstance)), nil
}

// Update replaces the cached instances of a microservice.
func (m *InstanceCacheManager) Update(appID, serviceName string, instances []*registry.MicroserviceInstance) {
	m.cache.Add(cacheKey(appID, serviceName), instances)
}

// Invalidate drops the cached instances of a microservice.
func (m *InstanceCacheManager) Invalidate(appID, serviceName string) {
	m.cache.Remove(cacheKey(appID, serviceName))
}

// Purge drops every cached entry.
func (m *InstanceCacheManager) Purge() {
	m.cache.Purge()
}

func copyInstances(instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance {
	out := make([]*registry.MicroserviceInstance, len(instances))
	copy(out, instances)
	return out
}

// InstanceVersionCacheManager selects cached instances by version rule.
type InstanceVersionCacheManager struct {
	instances *InstanceCacheManager
	rules     *lru.Cache[string, VersionRule]
}

// NewInstanceVersionCacheManager creates a manager on top of instances.
func NewInstanceVersionCacheManager(instances *InstanceCacheManager) *InstanceVersionCacheManager {
	rules, _ := lru.New[string, VersionRule](256)
	return &InstanceVersionCacheManager{instances: instances, rules: rules}
}

// Instances returns the instances matching versionRule, highest version first.
func (m *InstanceVersionCacheManager) Instances(ctx context.Context, appID, serviceName, versionRule string) ([]*registry.MicroserviceInstance, error) {
	rule, err := m.rule(versionRule)
	if err != nil {
		return nil, err
	}
	instances, err := m.instances.Instances(ctx, appID, serviceName)
	if err != nil {
		return nil, err
	}
	return rule.Select(instances), nil
}

func (m *InstanceVersionCacheManager) rule(s string) (VersionRule, error) {
	if rule, ok := m.rules.Get(s); ok {
		return rule, nil
	}
	rule, err := ParseVersionRule(s)
	if err != nil {
		return nil, err
	}
	m.rules.Add(s, rule)
	return rule, nil
}
