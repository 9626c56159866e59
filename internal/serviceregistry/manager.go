package serviceregistry

import (
	"sync"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

// MicroserviceManager holds the microservices this process registers.
// Values handed out are copies; mutation goes through UpdateInstance.
type MicroserviceManager struct {
	appID string

	mu       sync.RWMutex
	order    []string
	services map[string]*local
}

type local struct {
	microservice *registry.Microservice
	instance     *registry.MicroserviceInstance
	registered   bool
}

// NewMicroserviceManager creates an empty manager for appID.
func NewMicroserviceManager(appID string) *MicroserviceManager {
	return &MicroserviceManager{appID: appID, services: make(map[string]*local)}
}

// AppID returns the application id of the local microservices.
func (m *MicroserviceManager) AppID() string {
	return m.appID
}

// Add adds a local microservice with its instance. Adding a name twice
// replaces the earlier entry.
func (m *MicroserviceManager) Add(ms *registry.Microservice, instance *registry.MicroserviceInstance) {
	ms = ms.Clone()
	instance = instance.Clone()
	if ms.AppID == "" {
		ms.AppID = m.appID
	}
	instance.AppID = ms.AppID
	instance.ServiceName = ms.ServiceName
	instance.Version = ms.Version

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[ms.ServiceName]; !ok {
		m.order = append(m.order, ms.ServiceName)
	}
	m.services[ms.ServiceName] = &local{microservice: ms, instance: instance}
}

// Names returns the local microservice names in the order they were added.
func (m *MicroserviceManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Len returns the number of local microservices.
func (m *MicroserviceManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Microservice returns a copy of the named microservice.
func (m *MicroserviceManager) Microservice(name string) (*registry.Microservice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.services[name]
	if !ok {
		return nil, false
	}
	return l.microservice.Clone(), true
}

// Instance returns a copy of the named microservice's instance.
func (m *MicroserviceManager) Instance(name string) (*registry.MicroserviceInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.services[name]
	if !ok {
		return nil, false
	}
	return l.instance.Clone(), true
}

// Registered reports whether the named instance is registered.
func (m *MicroserviceManager) Registered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.services[name]
	return ok && l.registered
}

// UpdateInstance mutates the named instance under the manager lock.
func (m *MicroserviceManager) UpdateInstance(name string, fn func(*registry.MicroserviceInstance)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.services[name]
	if !ok {
		return false
	}
	fn(l.instance)
	return true
}

// primary returns the first added microservice name.
func (m *MicroserviceManager) primary() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return "", false
	}
	return m.order[0], true
}

func (m *MicroserviceManager) setRegistered(name, serviceID, instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.services[name]
	if !ok {
		return
	}
	l.microservice.ServiceID = serviceID
	l.instance.ServiceID = serviceID
	l.instance.InstanceID = instanceID
	l.registered = true
}

func (m *MicroserviceManager) setUnregistered(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.services[name]; ok {
		l.registered = false
	}
}
