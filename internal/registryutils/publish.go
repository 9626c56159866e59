package registryutils

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/endpoint"
	"github.com/heytom-labs/heytom-registry/internal/netutil"
	"github.com/heytom-labs/heytom-registry/internal/publish"
	"github.com/heytom-labs/heytom-registry/internal/registry"
)

var resolver atomic.Pointer[publish.Resolver]

func installResolver(src publish.Source, log *zap.Logger) {
	resolver.Store(publish.NewResolver(src, netutil.NewSystem(), log))
}

// PublishResolver returns the process publish resolver. Before Init it reads
// the global viper configuration.
func PublishResolver() *publish.Resolver {
	if r := resolver.Load(); r != nil {
		return r
	}
	resolver.CompareAndSwap(nil, publish.NewResolver(viper.GetViper(), netutil.NewSystem(), zap.L()))
	return resolver.Load()
}

// SetPublishResolver replaces the process publish resolver.
func SetPublishResolver(r *publish.Resolver) {
	resolver.Store(r)
}

// PublishAddress returns the address advertised for this process.
func PublishAddress() (string, error) {
	return PublishResolver().PublishAddress()
}

// PublishHostName returns the host name advertised for this process.
func PublishHostName() (string, error) {
	return PublishResolver().PublishHostName()
}

// ResolvePublishAddress converts a bound scheme address into the advertised
// endpoint. See publish.Resolver.ResolveAddress.
func ResolvePublishAddress(scheme, address string) (endpoint.Endpoint, error) {
	return PublishResolver().ResolveAddress(scheme, address)
}

// AttachEndpoints resolves the bound address of every transport (scheme ->
// address) and sets the advertised endpoints and host name on the primary
// local instance. Invalid addresses are skipped; an unresolvable publish
// interface aborts. Call it between Init and Run.
func AttachEndpoints(transports map[string]string) ([]string, error) {
	sr, err := live()
	if err != nil {
		return nil, err
	}
	r := PublishResolver()

	hostName, err := r.PublishHostName()
	if err != nil {
		return nil, err
	}

	schemes := make([]string, 0, len(transports))
	for scheme := range transports {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)

	var endpoints []string
	for _, scheme := range schemes {
		eps, err := r.ResolveAddresses(scheme, []string{transports[scheme]})
		if err != nil {
			return nil, err
		}
		for _, ep := range eps {
			endpoints = append(endpoints, ep.String())
		}
	}

	ms := sr.Microservice()
	if ms == nil {
		return nil, fmt.Errorf("no local microservice: %w", ErrUninitializedAccess)
	}
	sr.MicroserviceManager().UpdateInstance(ms.ServiceName, func(inst *registry.MicroserviceInstance) {
		inst.HostName = hostName
		inst.Endpoints = endpoints
	})
	return endpoints, nil
}
