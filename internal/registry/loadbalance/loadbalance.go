// Package loadbalance picks one instance out of a discovery result.
package loadbalance

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync/atomic"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

const (
	// WeightProperty is the instance property read by the weighted balancer.
	WeightProperty = "weight"

	// MaxWeight caps a single instance weight so the cycle length cannot
	// overflow.
	MaxWeight = math.MaxInt32
)

// Balancer selects an instance; it returns nil for an empty list.
type Balancer interface {
	Select(instances []*registry.MicroserviceInstance) *registry.MicroserviceInstance
}

// New returns the balancer for strategy: "round_robin" (also ""), "random"
// or "weighted".
func New(strategy string) (Balancer, error) {
	switch strategy {
	case "", "round_robin":
		return NewRoundRobin(), nil
	case "random":
		return NewRandom(), nil
	case "weighted":
		return NewWeighted(), nil
	}
	return nil, fmt.Errorf("unknown load balancing strategy %q", strategy)
}

// RoundRobin cycles through the instances.
type RoundRobin struct {
	counter atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (lb *RoundRobin) Select(instances []*registry.MicroserviceInstance) *registry.MicroserviceInstance {
	if len(instances) == 0 {
		return nil
	}
	n := lb.counter.Add(1) - 1
	return instances[n%uint64(len(instances))]
}

// Random picks uniformly.
type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (Random) Select(instances []*registry.MicroserviceInstance) *registry.MicroserviceInstance {
	if len(instances) == 0 {
		return nil
	}
	return instances[rand.IntN(len(instances))]
}

// Weighted is a weighted round robin over the integer weight property: per
// cycle each instance gets weight consecutive picks. Missing or invalid
// weights count as 1; weights above MaxWeight count as MaxWeight.
type Weighted struct {
	counter atomic.Uint64
}

func NewWeighted() *Weighted {
	return &Weighted{}
}

func (lb *Weighted) Select(instances []*registry.MicroserviceInstance) *registry.MicroserviceInstance {
	if len(instances) == 0 {
		return nil
	}
	total := uint64(0)
	for _, inst := range instances {
		total += uint64(weight(inst))
	}

	offset := (lb.counter.Add(1) - 1) % total
	for _, inst := range instances {
		w := uint64(weight(inst))
		if offset < w {
			return inst
		}
		offset -= w
	}
	return instances[0]
}

func weight(inst *registry.MicroserviceInstance) int {
	w, err := strconv.ParseUint(inst.Properties[WeightProperty], 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange):
		return MaxWeight
	case err != nil || w == 0:
		return 1
	case w > MaxWeight:
		return MaxWeight
	}
	return int(w)
}
