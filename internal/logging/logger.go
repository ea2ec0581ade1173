// Package logging provides the process-wide slog logger and binds the
// identifiers the pipeline attaches to every line: the worker node ID,
// and per execution the task ID and type tag.
package logging

import (
	"context"
	"log/slog"
	"os"
)

var defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// ForWorker binds the worker node ID carried by every pipeline log line.
func ForWorker(l *slog.Logger, workerID string) *slog.Logger {
	return l.With(slog.String("worker_id", workerID))
}

// ForTask binds the identifiers of one execution: the task being run and
// its type tag.
func ForTask(l *slog.Logger, taskID, taskType string) *slog.Logger {
	return l.With(slog.String("task_id", taskID), slog.String("task_type", taskType))
}

type loggerKey struct{}

// FromContext extracts a bound logger, or the package default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ToContext binds l into ctx for downstream FromContext calls.
func ToContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Default returns the package-level default logger: JSON to stdout at
// info level.
func Default() *slog.Logger { return defaultLogger }
