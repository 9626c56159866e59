//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/logger"
	"github.com/heytom-labs/heytom-registry/internal/server/grpc"
	"github.com/heytom-labs/heytom-registry/internal/server/http"
)

// InitializeApp wires the application.
func InitializeApp() (*App, func(), error) {
	wire.Build(
		config.ProviderSet,
		logger.ProviderSet,
		http.ProviderSet,
		grpc.ProviderSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
