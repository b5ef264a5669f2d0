// Package logging builds the zap logger shared by the core and every
// adapter.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger, or a development logger (human
// readable, debug level) when env is "development" or "dev".
func New(env string) (*zap.Logger, error) {
	switch env {
	case "development", "dev":
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	default:
		return zap.NewProduction()
	}
}

// NewFromEnv builds a logger based on the EVENTCORE_ENV environment
// variable, defaulting to production.
func NewFromEnv() (*zap.Logger, error) {
	return New(os.Getenv("EVENTCORE_ENV"))
}
