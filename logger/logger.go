// Package logger builds the zap loggers used by the node daemon and the CLI.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects where and how much a logger writes.
type Config struct {
	Service string
	Level   string   // debug, info, warn or error; info when empty
	Outputs []string // zap sink paths; stdout when empty
	Console bool     // console encoding instead of JSON
}

// New constructs a JSON logger for service writing info and above to stdout.
func New(service string) (*zap.SugaredLogger, error) {
	return Build(Config{Service: service})
}

// Build constructs a sugared logger from cfg. Every entry carries the
// service name and an ISO8601 timestamp.
func Build(cfg Config) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		level = l
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stdout"}
	if len(cfg.Outputs) > 0 {
		config.OutputPaths = cfg.Outputs
	}
	if cfg.Console {
		config.Encoding = "console"
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]any{
		"service": cfg.Service,
	}

	log, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	return log.Sugar(), nil
}
