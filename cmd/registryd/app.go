package main

import (
	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/server/grpc"
	"github.com/heytom-labs/heytom-registry/internal/server/http"
)

// App Application structure
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	HTTPServer *http.Server
	GRPCServer *grpc.Server
}
