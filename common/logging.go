// Package common contains shared helpers used across the secrets
// provisioning binaries: logger setup and build metadata.
package common

import (
	"log/slog"
	"os"
)

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON switches the handler to JSON output (text otherwise).
	JSON bool

	// Service is added as a 'service' attribute to all log records.
	Service string

	// Version is added as a 'version' attribute to all log records.
	Version string
}

// SetupLogger creates a slog.Logger according to the given options.
// All binaries in this repository create their logger through this
// function so log output stays uniform across components.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
