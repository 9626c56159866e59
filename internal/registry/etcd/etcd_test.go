package etcd

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "/servicecomb/instances/app/order/", instanceServicePrefix("app", "order"))
	assert.Equal(t, "/servicecomb/instances/app/order/i1", instanceKey("app", "order", "i1"))
}

// TestRegisterAndFind needs a running etcd; set ETCD_ENDPOINT to enable it.
func TestRegisterAndFind(t *testing.T) {
	addr := os.Getenv("ETCD_ENDPOINT")
	if addr == "" {
		t.Skip("ETCD_ENDPOINT not set")
	}
	ctx := context.Background()

	reg, err := NewEtcdRegistry([]string{addr}, 10)
	require.NoError(t, err)
	defer reg.Close()

	serviceID, err := reg.RegisterMicroservice(ctx, &registry.Microservice{AppID: "test", ServiceName: "Arith", Version: "1.0.0"})
	require.NoError(t, err)

	ms, err := reg.GetMicroservice(ctx, serviceID)
	require.NoError(t, err)
	assert.Equal(t, "Arith", ms.ServiceName)

	id, err := reg.RegisterInstance(ctx, &registry.MicroserviceInstance{
		ServiceID: serviceID, AppID: "test", ServiceName: "Arith", Version: "1.0.0",
		Endpoints: []string{"rest://127.0.0.1:8001"},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Heartbeat(ctx, serviceID, id))

	instances, err := reg.FindInstances(ctx, "test", "Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)

	ok, err := reg.UpdateInstanceProperties(ctx, serviceID, id, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, reg.UnregisterInstance(ctx, serviceID, id))
	assert.ErrorIs(t, reg.Heartbeat(ctx, serviceID, id), registry.ErrNotFound)

	instances, err = reg.FindInstances(ctx, "test", "Arith")
	require.NoError(t, err)
	assert.Empty(t, instances)
}
