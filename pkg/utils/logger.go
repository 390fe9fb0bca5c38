package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// NewSugaredLogger creates a sugared logger based on the verbose flag.
// If verbose is true, it creates a development logger, otherwise a production logger.
// A non-empty outputPath sends logs to that file instead of stderr, which keeps
// full-screen terminal output intact.
func NewSugaredLogger(verbose bool, outputPath string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	kind := "production"
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		kind = "development"
	}
	if outputPath != "" {
		cfg.OutputPaths = []string{outputPath}
		cfg.ErrorOutputPaths = []string{outputPath}
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s logger: %w", kind, err)
	}
	return l.Sugar(), nil
}
