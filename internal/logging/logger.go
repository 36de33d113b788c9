// Package logging provides structured logging configuration using log/slog.
//
// Sync runs are correlated by run ID: every log entry produced while a run
// is active carries run_id, and per-table work additionally carries table.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format in production for machine parsing (ELK, CloudWatch, etc.)
// Use "text" format in development for human readability.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a logger that tags every entry with the run ID.
//
// Usage:
//
//	log := logging.WithRun(runID)
//	log.Info("sync started", "mode", mode)
func WithRun(runID string) *slog.Logger {
	return slog.Default().With("run_id", runID)
}

// WithTable returns a run logger further scoped to one table.
func WithTable(log *slog.Logger, table string) *slog.Logger {
	return log.With("table", table)
}
