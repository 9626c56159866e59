package http

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/registry"
	"github.com/heytom-labs/heytom-registry/internal/registryutils"
)

// ProviderSet HTTP server providers
var ProviderSet = wire.NewSet(
	ProvideServer,
)

// ProvideServer builds the HTTP server over the process-wide registry.
func ProvideServer(cfg *config.Config, log *zap.Logger) *Server {
	return New(cfg.Server.RestAddress, cfg.AppID, processLookup{}, log)
}

type processLookup struct{}

func (processLookup) FindServiceInstance(ctx context.Context, appID, serviceName, versionRule string) ([]*registry.MicroserviceInstance, error) {
	return registryutils.FindServiceInstance(ctx, appID, serviceName, versionRule)
}

func (processLookup) GetMicroservice(ctx context.Context, microserviceID string) (*registry.Microservice, error) {
	return registryutils.GetMicroservice(ctx, microserviceID)
}
