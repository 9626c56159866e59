package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/heytom-labs/heytom-registry/internal/registryutils"

	_ "github.com/heytom-labs/heytom-registry/internal/registry/consul" // register backends
	_ "github.com/heytom-labs/heytom-registry/internal/registry/etcd"
	_ "github.com/heytom-labs/heytom-registry/internal/registry/memory"
)

func main() {
	app, cleanup, err := InitializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	err = run(app)
	if err != nil {
		app.Logger.Error("registryd stopped", zap.Error(err))
	}
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}

func run(app *App) error {
	cfg, lg := app.Config, app.Logger

	if err := registryutils.Init(cfg, lg); err != nil {
		return err
	}
	defer func() {
		if err := registryutils.Destroy(); err != nil {
			lg.Warn("destroy service registry", zap.Error(err))
		}
	}()

	endpoints, err := registryutils.AttachEndpoints(cfg.Server.Transports())
	if err != nil {
		return err
	}
	lg.Info("publishing endpoints", zap.Strings("endpoints", endpoints))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(app.HTTPServer.Start)
	g.Go(app.GRPCServer.Start)

	if err := registryutils.Run(gctx); err != nil {
		stop()
		shutdown(app)
		return errors.Join(err, g.Wait())
	}
	app.GRPCServer.SetServing("", true)
	lg.Info("registryd running",
		zap.String("registry", cfg.Registry.Type),
		zap.String("rest", cfg.Server.RestAddress),
		zap.String("grpc", cfg.Server.GRPCAddress))

	<-gctx.Done()
	lg.Info("shutting down servers")
	shutdown(app)
	return g.Wait()
}

func shutdown(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.HTTPServer.Stop(ctx); err != nil {
		app.Logger.Warn("http server shutdown", zap.Error(err))
	}
	app.GRPCServer.Stop()
}
