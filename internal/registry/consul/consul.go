package consul

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/consul/api"

	"github.com/heytom-labs/heytom-registry/internal/endpoint"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

// Meta keys stored on consul services
const (
	metaServiceID  = "serviceId"
	metaAppID      = "appId"
	metaVersion    = "version"
	metaHostName   = "hostName"
	metaEndpoints  = "endpoints"
	metaProperties = "properties"

	kvPrefix = "servicecomb/microservices/"
)

// Config Consul configuration
type Config struct {
	Address        string        // Consul address
	Scheme         string        // http or https
	Token          string        // ACL Token
	Datacenter     string        // datacenter
	WaitTime       time.Duration // blocking query wait time
	HealthCheckTTL time.Duration // TTL check interval
}

// Registry Consul registry client
type Registry struct {
	client *api.Client
	config *Config
}

var _ registry.Client = (*Registry)(nil)

// NewRegistry creates a Consul registry client
func NewRegistry(config *Config) (*Registry, error) {
	if config == nil {
		config = &Config{
			Address:        "127.0.0.1:8500",
			Scheme:         "http",
			WaitTime:       time.Second * 30,
			HealthCheckTTL: time.Second * 90,
		}
	}

	consulConfig := api.DefaultConfig()
	consulConfig.Address = config.Address
	if config.Scheme != "" {
		consulConfig.Scheme = config.Scheme
	}
	consulConfig.Token = config.Token
	consulConfig.Datacenter = config.Datacenter
	consulConfig.WaitTime = config.WaitTime

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &Registry{
		client: client,
		config: config,
	}, nil
}

// RegisterMicroservice stores the microservice definition in the KV store.
// The id is derived from app/name/version so re-registration is idempotent.
func (r *Registry) RegisterMicroservice(ctx context.Context, ms *registry.Microservice) (string, error) {
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

	opts := (&api.WriteOptions{}).WithContext(ctx)
	if _, err := r.client.KV().Put(&api.KVPair{Key: kvPrefix + stored.ServiceID, Value: val}, opts); err != nil {
		return "", fmt.Errorf("failed to register microservice: %w", err)
	}
	return stored.ServiceID, nil
}

// GetMicroservice reads a microservice definition from the KV store
func (r *Registry) GetMicroservice(ctx context.Context, serviceID string) (*registry.Microservice, error) {
	pair, _, err := r.client.KV().Get(kvPrefix+serviceID, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get microservice: %w", err)
	}
	if pair == nil {
		return nil, fmt.Errorf("microservice %s: %w", serviceID, registry.ErrNotFound)
	}

	var ms registry.Microservice
	if err := json.Unmarshal(pair.Value, &ms); err != nil {
		return nil, fmt.Errorf("failed to decode microservice %s: %w", serviceID, err)
	}
	return &ms, nil
}

// RegisterInstance registers the instance as an agent service with a TTL check
func (r *Registry) RegisterInstance(ctx context.Context, instance *registry.MicroserviceInstance) (string, error) {
	if instance == nil {
		return "", fmt.Errorf("service instance is nil")
	}

	stored := instance.Clone()
	if stored.InstanceID == "" {
		stored.InstanceID = uuid.NewString()
	}
	registration, err := r.registration(stored)
	if err != nil {
		return "", err
	}

	opts := api.ServiceRegisterOpts{}.WithContext(ctx)
	if err := r.client.Agent().ServiceRegisterOpts(registration, opts); err != nil {
		return "", fmt.Errorf("failed to register service: %w", err)
	}
	return stored.InstanceID, nil
}

// UnregisterInstance deregisters the agent service
func (r *Registry) UnregisterInstance(ctx context.Context, _, instanceID string) error {
	if err := r.client.Agent().ServiceDeregisterOpts(instanceID, (&api.QueryOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

// Heartbeat passes the instance's TTL check
func (r *Registry) Heartbeat(ctx context.Context, serviceID, instanceID string) error {
	err := r.client.Agent().UpdateTTLOpts(checkID(instanceID), "", api.HealthPassing, (&api.QueryOptions{}).WithContext(ctx))
	if isNotFound(err) {
		return fmt.Errorf("instance %s/%s: %w", serviceID, instanceID, registry.ErrNotFound)
	}
	return err
}

// FindInstances returns the passing instances of a microservice
func (r *Registry) FindInstances(ctx context.Context, appID, serviceName string) ([]*registry.MicroserviceInstance, error) {
	services, _, err := r.client.Health().Service(serviceName, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}
	return toInstances(services, appID), nil
}

// UpdateInstanceProperties re-registers the instance with new properties
func (r *Registry) UpdateInstanceProperties(ctx context.Context, _, instanceID string, properties map[string]string) (bool, error) {
	svc, _, err := r.client.Agent().Service(instanceID, (&api.QueryOptions{}).WithContext(ctx))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get service: %w", err)
	}

	instance := fromAgentService(svc.ID, svc.Service, svc.Meta)
	instance.Properties = properties
	registration, err := r.registration(instance)
	if err != nil {
		return false, err
	}
	if err := r.client.Agent().ServiceRegisterOpts(registration, api.ServiceRegisterOpts{}.WithContext(ctx)); err != nil {
		return false, fmt.Errorf("failed to update service: %w", err)
	}
	return true, nil
}

// Watch watches instance changes with blocking queries
func (r *Registry) Watch(ctx context.Context, appID, serviceName string) (registry.Watcher, error) {
	return newWatcher(ctx, r.client, appID, serviceName, r.config.WaitTime)
}

// Close is a no-op; the consul client holds no persistent connection
func (r *Registry) Close() error {
	return nil
}

func (r *Registry) registration(instance *registry.MicroserviceInstance) (*api.AgentServiceRegistration, error) {
	props, err := json.Marshal(instance.Properties)
	if err != nil {
		return nil, err
	}

	registration := &api.AgentServiceRegistration{
		ID:   instance.InstanceID,
		Name: instance.ServiceName,
		Tags: []string{instance.AppID, instance.Version},
		Meta: map[string]string{
			metaServiceID:  instance.ServiceID,
			metaAppID:      instance.AppID,
			metaVersion:    instance.Version,
			metaHostName:   instance.HostName,
			metaEndpoints:  strings.Join(instance.Endpoints, ","),
			metaProperties: string(props),
		},
		Check: &api.AgentServiceCheck{
			CheckID:                        checkID(instance.InstanceID),
			TTL:                            r.config.HealthCheckTTL.String(),
			Status:                         api.HealthPassing,
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	// consul keeps one address per service; use the first endpoint's
	for _, raw := range instance.Endpoints {
		scheme, address, ok := strings.Cut(raw, "://")
		if !ok {
			continue
		}
		if ep, err := endpoint.Parse(scheme, address); err == nil {
			registration.Address = ep.Host
			registration.Port = ep.Port
			break
		}
	}
	return registration, nil
}

func checkID(instanceID string) string {
	return "service:" + instanceID
}

func isNotFound(err error) bool {
	var statusErr api.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

func toInstances(services []*api.ServiceEntry, appID string) []*registry.MicroserviceInstance {
	instances := make([]*registry.MicroserviceInstance, 0, len(services))
	for _, service := range services {
		if service.Service.Meta[metaAppID] != appID {
			continue
		}
		instances = append(instances, fromAgentService(service.Service.ID, service.Service.Service, service.Service.Meta))
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].InstanceID < instances[j].InstanceID
	})
	return instances
}

func fromAgentService(id, name string, meta map[string]string) *registry.MicroserviceInstance {
	instance := &registry.MicroserviceInstance{
		InstanceID:  id,
		ServiceID:   meta[metaServiceID],
		AppID:       meta[metaAppID],
		ServiceName: name,
		Version:     meta[metaVersion],
		HostName:    meta[metaHostName],
		Status:      registry.StatusUp,
	}
	if eps := meta[metaEndpoints]; eps != "" {
		instance.Endpoints = strings.Split(eps, ",")
	}
	if props := meta[metaProperties]; props != "" {
		_ = json.Unmarshal([]byte(props), &instance.Properties)
	}
	return instance
}

// watcher Consul service watcher
type watcher struct {
	client      *api.Client
	appID       string
	serviceName string
	waitTime    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	eventChan   chan []*registry.MicroserviceInstance
	errChan     chan error
	done        chan struct{}
}

// newWatcher creates a service watcher
func newWatcher(ctx context.Context, client *api.Client, appID, serviceName string, waitTime time.Duration) (*watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	if waitTime <= 0 {
		waitTime = time.Second * 30
	}

	w := &watcher{
		client:      client,
		appID:       appID,
		serviceName: serviceName,
		waitTime:    waitTime,
		ctx:         watchCtx,
		cancel:      cancel,
		eventChan:   make(chan []*registry.MicroserviceInstance, 1),
		errChan:     make(chan error, 1),
		done:        make(chan struct{}),
	}

	go w.watch()

	return w, nil
}

// watch long-polls the health endpoint
func (w *watcher) watch() {
	defer close(w.done)
	var lastIndex uint64

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		queryOptions := (&api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  w.waitTime,
		}).WithContext(w.ctx)

		services, meta, err := w.client.Health().Service(w.serviceName, "", true, queryOptions)
		if err != nil {
			select {
			case w.errChan <- err:
			case <-w.ctx.Done():
				return
			}
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// index unchanged, keep waiting
		if lastIndex == meta.LastIndex {
			continue
		}
		lastIndex = meta.LastIndex

		select {
		case w.eventChan <- toInstances(services, w.appID):
		case <-w.ctx.Done():
			return
		}
	}
}

// Next returns the next instance change
func (w *watcher) Next() ([]*registry.MicroserviceInstance, error) {
	select {
	case instances := <-w.eventChan:
		return instances, nil
	case err := <-w.errChan:
		return nil, err
	case <-w.ctx.Done():
		return nil, w.ctx.Err()
	}
}

// Stop stops watching
func (w *watcher) Stop() error {
	w.cancel()
	return nil
}
