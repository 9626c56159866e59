package consul

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

func TestRegistration(t *testing.T) {
	r, err := NewRegistry(&Config{Address: "127.0.0.1:8500", HealthCheckTTL: 90 * time.Second})
	require.NoError(t, err)

	reg, err := r.registration(&registry.MicroserviceInstance{
		InstanceID:  "i1",
		ServiceID:   "s1",
		AppID:       "app",
		ServiceName: "order",
		Version:     "1.0.0",
		HostName:    "node-1",
		Endpoints:   []string{"bad", "rest://10.0.0.1:8080/api", "grpc://10.0.0.1:7070"},
		Properties:  map[string]string{"zone": "az1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "i1", reg.ID)
	assert.Equal(t, "order", reg.Name)
	assert.Equal(t, "10.0.0.1", reg.Address)
	assert.Equal(t, 8080, reg.Port)
	assert.Equal(t, "service:i1", reg.Check.CheckID)
	assert.Equal(t, "1m30s", reg.Check.TTL)

	back := fromAgentService(reg.ID, reg.Name, reg.Meta)
	assert.Equal(t, "s1", back.ServiceID)
	assert.Equal(t, "app", back.AppID)
	assert.Equal(t, []string{"bad", "rest://10.0.0.1:8080/api", "grpc://10.0.0.1:7070"}, back.Endpoints)
	assert.Equal(t, map[string]string{"zone": "az1"}, back.Properties)
}

func TestToInstances_FiltersApp(t *testing.T) {
	entries := []*api.ServiceEntry{
		{Service: &api.AgentService{ID: "b", Service: "order", Meta: map[string]string{metaAppID: "app"}}},
		{Service: &api.AgentService{ID: "c", Service: "order", Meta: map[string]string{metaAppID: "other"}}},
		{Service: &api.AgentService{ID: "a", Service: "order", Meta: map[string]string{metaAppID: "app"}}},
	}

	instances := toInstances(entries, "app")
	require.Len(t, instances, 2)
	assert.Equal(t, "a", instances[0].InstanceID)
	assert.Equal(t, "b", instances[1].InstanceID)

	assert.NotNil(t, toInstances(nil, "app"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(api.StatusError{Code: 404}))
	assert.False(t, isNotFound(api.StatusError{Code: 500}))
	assert.False(t, isNotFound(nil))
}

func TestFactoryRegistered(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Registry.Type = "consul"

	client, err := registry.NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Registry{}, client)
}

func TestWatcher_StopDuringBackoff(t *testing.T) {
	client, err := api.NewClient(&api.Config{Address: "127.0.0.1:1"})
	require.NoError(t, err)

	w, err := newWatcher(context.Background(), client, "app", "order", time.Second)
	require.NoError(t, err)

	_, err = w.Next()
	require.Error(t, err, "unreachable agent")

	require.NoError(t, w.Stop())
	select {
	case <-w.done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("watch loop kept sleeping after Stop")
	}
}
