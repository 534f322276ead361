// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and threshold for New.
type Options struct {
	// Development switches to the colored console encoder.
	Development bool
	// Level is a zap level name. Empty means info.
	Level string
	// Version is stamped on every entry as "version".
	Version string
	// OutputPaths overrides stderr. Used by tests.
	OutputPaths []string
}

// New builds the logger every command and job shares. Entries carry
// service=linkkeeper and the build version so job runs from several
// deployments can share one log sink.
func New(opts Options) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if opts.Level != "" {
		if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		// Keep every per-record entry; sampling drops repeats.
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}
	cfg.InitialFields = map[string]any{"service": "linkkeeper"}
	if opts.Version != "" {
		cfg.InitialFields["version"] = opts.Version
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
