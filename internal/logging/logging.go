// Package logging configures the process-wide slog logger and carries the
// identifiers that tie a controller run to the stage operations it issues.
// Every record a stage writes goes through slog.Default, so a single Setup
// call at start-up decides format and verbosity for the whole pipeline.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config is the logging block of the pipeline config file.
type Config struct {
	Format string `yaml:"format"` // json or text (default)
	Level  string `yaml:"level"`  // debug, info (default), warn, error
}

// Setup installs the pipeline logger on stdout.
func Setup(cfg Config) {
	SetupWriter(os.Stdout, cfg)
}

// SetupWriter installs the pipeline logger on w. Tests point it at a buffer
// to assert on the emitted records.
func SetupWriter(w io.Writer, cfg Config) {
	slog.SetDefault(slog.New(newHandler(w, cfg)))
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelFor(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// levelFor maps a config level name to slog. Unknown names log at info.
func levelFor(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

type correlationIDKey struct{}

// WithCorrelationID tags ctx with the id of the operation request it serves.
// Stages read it back through CorrelationID when they log or emit audit
// events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the operation id stored on ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// GenerateCorrelationID mints an id for a dispatched operation: "op_"
// followed by 16 hex digits.
func GenerateCorrelationID() string {
	return "op_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// OperationLogger scopes the default logger to one dispatched operation.
func OperationLogger(correlationID, operation string) *slog.Logger {
	return slog.With(
		"component", "dispatch",
		"correlation_id", correlationID,
		"operation", operation,
	)
}

// RunLogger scopes the default logger to one controller run.
func RunLogger(runID string) *slog.Logger {
	return slog.With("component", "runloop", "run_id", runID)
}

// Component scopes the default logger to a named part of the pipeline.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
