// Package logger builds the process zap logger from configuration.
package logger

import (
	"fmt"
	"strings"

	"github.com/google/wire"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heytom-labs/heytom-registry/internal/config"
)

// ProviderSet logger providers
var ProviderSet = wire.NewSet(
	ProvideLogger,
)

// New creates a logger. Format "json" selects the production encoder,
// anything else the console encoder.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// ProvideLogger builds the logger and installs it as the zap global.
func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	restore := zap.ReplaceGlobals(log)
	return log, func() {
		_ = log.Sync()
		restore()
	}, nil
}
