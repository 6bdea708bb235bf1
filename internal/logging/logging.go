// Package logging builds the service's root zap logger. Crawl runs are long
// and chatty; the configuration here keeps every per-target line.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger: colored console output in development, JSON in
// production. Timestamps land under "ts" in ISO 8601 so run logs line up with
// the last-check values written to the sheet.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		// A run emits a bounded number of lines per target; sampling would
		// drop exactly the failure lines worth keeping.
		cfg.Sampling = nil
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("viewtracker"), nil
}
