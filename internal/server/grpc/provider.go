package grpc

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/config"
)

// ProviderSet gRPC server providers
var ProviderSet = wire.NewSet(
	ProvideServer,
)

// ProvideServer builds the gRPC server on the configured address.
func ProvideServer(cfg *config.Config, log *zap.Logger) *Server {
	return New(cfg.Server.GRPCAddress, log)
}
