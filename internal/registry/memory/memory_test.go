package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

func TestRegisterAndFind(t *testing.T) {
	ctx := context.Background()
	reg := New()

	serviceID, err := reg.RegisterMicroservice(ctx, &registry.Microservice{AppID: "app", ServiceName: "order", Version: "1.0.0"})
	require.NoError(t, err)

	again, err := reg.RegisterMicroservice(ctx, &registry.Microservice{AppID: "app", ServiceName: "order", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, serviceID, again)

	id1, err := reg.RegisterInstance(ctx, &registry.MicroserviceInstance{InstanceID: "b", ServiceID: serviceID, Endpoints: []string{"rest://10.0.0.1:8080"}})
	require.NoError(t, err)
	_, err = reg.RegisterInstance(ctx, &registry.MicroserviceInstance{InstanceID: "a", ServiceID: serviceID})
	require.NoError(t, err)

	instances, err := reg.FindInstances(ctx, "app", "order")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "a", instances[0].InstanceID)
	assert.Equal(t, "1.0.0", instances[1].Version)
	assert.Equal(t, registry.StatusUp, instances[1].Status)

	require.NoError(t, reg.Heartbeat(ctx, serviceID, id1))
	require.NoError(t, reg.UnregisterInstance(ctx, serviceID, id1))
	assert.ErrorIs(t, reg.Heartbeat(ctx, serviceID, id1), registry.ErrNotFound)

	instances, err = reg.FindInstances(ctx, "app", "order")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestFindInstances_NoMatchIsEmpty(t *testing.T) {
	instances, err := New().FindInstances(context.Background(), "app", "absent")
	require.NoError(t, err)
	assert.NotNil(t, instances)
	assert.Empty(t, instances)
}

func TestRegisterInstance_UnknownService(t *testing.T) {
	_, err := New().RegisterInstance(context.Background(), &registry.MicroserviceInstance{ServiceID: "nope"})
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestGetMicroservice(t *testing.T) {
	ctx := context.Background()
	reg := New()

	_, err := reg.GetMicroservice(ctx, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	id, err := reg.RegisterMicroservice(ctx, &registry.Microservice{AppID: "app", ServiceName: "user", Version: "2.0.0", Properties: map[string]string{"k": "v"}})
	require.NoError(t, err)

	ms, err := reg.GetMicroservice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user", ms.ServiceName)

	ms.Properties["k"] = "changed"
	again, _ := reg.GetMicroservice(ctx, id)
	assert.Equal(t, "v", again.Properties["k"], "returned copies are detached")
}

func TestUpdateInstanceProperties(t *testing.T) {
	ctx := context.Background()
	reg := New()
	serviceID, _ := reg.RegisterMicroservice(ctx, &registry.Microservice{AppID: "app", ServiceName: "order", Version: "1.0.0"})
	instanceID, _ := reg.RegisterInstance(ctx, &registry.MicroserviceInstance{ServiceID: serviceID})

	ok, err := reg.UpdateInstanceProperties(ctx, serviceID, instanceID, map[string]string{"tag": "blue"})
	require.NoError(t, err)
	assert.True(t, ok)

	instances, _ := reg.FindInstances(ctx, "app", "order")
	assert.Equal(t, "blue", instances[0].Properties["tag"])

	ok, err = reg.UpdateInstanceProperties(ctx, serviceID, "missing", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	reg := New()
	serviceID, _ := reg.RegisterMicroservice(ctx, &registry.Microservice{AppID: "app", ServiceName: "order", Version: "1.0.0"})

	w, err := reg.Watch(ctx, "app", "order")
	require.NoError(t, err)

	_, err = reg.RegisterInstance(ctx, &registry.MicroserviceInstance{InstanceID: "i1", ServiceID: serviceID})
	require.NoError(t, err)

	done := make(chan []*registry.MicroserviceInstance, 1)
	go func() {
		instances, _ := w.Next()
		done <- instances
	}()

	select {
	case instances := <-done:
		require.Len(t, instances, 1)
		assert.Equal(t, "i1", instances[0].InstanceID)
	case <-time.After(time.Second):
		t.Fatal("watch event not delivered")
	}

	require.NoError(t, w.Stop())
	_, err = w.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactoryRegistered(t *testing.T) {
	cfg := config.GetDefaultConfig()
	client, err := registry.NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Registry{}, client)

	cfg.Registry.Type = "zookeeper"
	_, err = registry.NewClient(cfg)
	assert.ErrorIs(t, err, registry.ErrUnsupportedType)
}
