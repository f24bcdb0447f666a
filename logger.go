package quadcache

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/quadcache/tilekey"
)

// Logger wraps slog.Logger with quadcache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithLayer adds catalog, layer and version fields to the logger.
func (l *Logger) WithLayer(catalog, layer string, version uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("catalog", catalog, "layer", layer, "version", version),
	}
}

// WithOperation tags the logger with an operation name and id.
func (l *Logger) WithOperation(op, id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("op", op, "op_id", id),
	}
}

// LogPrefetch logs the outcome of a prefetch.
func (l *Logger) LogPrefetch(ctx context.Context, requested, cached int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "prefetch failed",
			"requested", requested,
			"cached", cached,
			"error", err,
		)
	case cached < requested:
		l.WarnContext(ctx, "prefetch completed with failures",
			"requested", requested,
			"cached", cached,
			"failed", requested-cached,
		)
	default:
		l.InfoContext(ctx, "prefetch completed",
			"requested", requested,
		)
	}
}

// LogProtect logs a protect operation.
func (l *Logger) LogProtect(ctx context.Context, count int, err error) {
	if err != nil {
		l.WarnContext(ctx, "protect failed",
			"tiles", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "protect completed",
			"tiles", count,
		)
	}
}

// LogRelease logs a release operation.
func (l *Logger) LogRelease(ctx context.Context, count int, err error) {
	if err != nil {
		l.WarnContext(ctx, "release failed",
			"tiles", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "release completed",
			"tiles", count,
		)
	}
}

// LogRemove logs a cache removal.
func (l *Logger) LogRemove(ctx context.Context, target string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove from cache failed",
			"target", target,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "removed from cache",
			"target", target,
		)
	}
}

// LogResolveFailure logs a cached index that could not be used.
func (l *Logger) LogResolveFailure(ctx context.Context, tile tilekey.TileKey, indexKey string, err error) {
	l.WarnContext(ctx, "cached quadtree unusable",
		"tile", tile.String(),
		"key", indexKey,
		"error", err,
	)
}
