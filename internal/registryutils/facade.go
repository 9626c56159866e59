package registryutils

import (
	"context"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

// FindServiceInstance returns the instances of appID/serviceName matching
// versionRule, highest version first. No match is an empty, non-nil slice.
func FindServiceInstance(ctx context.Context, appID, serviceName, versionRule string) ([]*registry.MicroserviceInstance, error) {
	sr, err := live()
	if err != nil {
		return nil, err
	}
	instances, err := sr.FindServiceInstance(ctx, appID, serviceName, versionRule)
	if err != nil {
		return nil, err
	}
	if instances == nil {
		instances = []*registry.MicroserviceInstance{}
	}
	return instances, nil
}

// UpdateInstanceProperties replaces the properties of the local instance.
// With more than one local microservice it fails with
// serviceregistry.ErrAmbiguousLocalInstance.
func UpdateInstanceProperties(ctx context.Context, properties map[string]string) (bool, error) {
	sr, err := live()
	if err != nil {
		return false, err
	}
	return sr.UpdateInstanceProperties(ctx, properties)
}

// UpdateMicroserviceInstanceProperties replaces the properties of the
// instance of the named local microservice.
func UpdateMicroserviceInstanceProperties(ctx context.Context, microserviceName string, properties map[string]string) (bool, error) {
	sr, err := live()
	if err != nil {
		return false, err
	}
	return sr.UpdateMicroserviceInstanceProperties(ctx, microserviceName, properties)
}

// GetMicroservice looks a microservice up in the registry by id; unknown ids
// yield registry.ErrNotFound.
func GetMicroservice(ctx context.Context, microserviceID string) (*registry.Microservice, error) {
	sr, err := live()
	if err != nil {
		return nil, err
	}
	return sr.GetRemoteMicroservice(ctx, microserviceID)
}
