// Package logging builds the relay's zap loggers.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Service is attached to every production log line.
const Service = "itemrelay"

// Config selects the encoder and minimum level.
type Config struct {
	Development bool
	// Level is a zap level name. Empty keeps the preset's default
	// (debug in development, info in production).
	Level string
}

// New builds a console logger in development and a JSON logger tagged with
// the service name otherwise.
func New(cfg Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.DisableStacktrace = false
		zc.InitialFields = map[string]any{"service": Service}
	}
	zc.EncoderConfig.TimeKey = "ts"
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
		}
		zc.Level = lvl
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
