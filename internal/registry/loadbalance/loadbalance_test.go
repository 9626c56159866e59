package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

func instances(weights ...string) []*registry.MicroserviceInstance {
	out := make([]*registry.MicroserviceInstance, len(weights))
	for i, w := range weights {
		out[i] = &registry.MicroserviceInstance{InstanceID: string(rune('a' + i))}
		if w != "" {
			out[i].Properties = map[string]string{WeightProperty: w}
		}
	}
	return out
}

func pick(lb Balancer, list []*registry.MicroserviceInstance, n int) string {
	var ids string
	for range n {
		ids += lb.Select(list).InstanceID
	}
	return ids
}

func TestNew(t *testing.T) {
	for _, s := range []string{"", "round_robin", "random", "weighted"} {
		lb, err := New(s)
		require.NoError(t, err, s)
		assert.Nil(t, lb.Select(nil), s)
	}
	_, err := New("least_conn")
	assert.Error(t, err)
}

func TestRoundRobin(t *testing.T) {
	assert.Equal(t, "abcabc", pick(NewRoundRobin(), instances("", "", ""), 6))
}

func TestRandom(t *testing.T) {
	list := instances("", "")
	lb := NewRandom()
	for range 20 {
		assert.Contains(t, list, lb.Select(list))
	}
}

func TestWeighted(t *testing.T) {
	tests := []struct {
		name    string
		weights []string
		n       int
		want    string
	}{
		{name: "weights", weights: []string{"3", "x"}, n: 8, want: "aaabaaab"},
		{name: "invalid count as one", weights: []string{"0", "-2"}, n: 4, want: "abab"},
		{name: "huge weights clamp", weights: []string{"9223372036854775807", "9223372036854775807", "2"}, n: 3, want: "aaa"},
		{name: "out of range clamps", weights: []string{"99999999999999999999999", "1"}, n: 2, want: "aa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewWeighted()
			list := instances(tt.weights...)
			require.NotPanics(t, func() {
				assert.Equal(t, tt.want, pick(lb, list, tt.n))
			})
		})
	}
}

func TestWeighted_ClampedCycle(t *testing.T) {
	list := instances("9223372036854775807", "1")
	assert.Equal(t, MaxWeight, weight(list[0]))

	lb := NewWeighted()
	lb.counter.Store(MaxWeight)
	assert.Equal(t, "ba", pick(lb, list, 2))
}
