package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New builds the process-wide structured logger. Output goes to stderr with
// a colorized, human-scannable handler in development and a plain one when
// stdout isn't a terminal (tint auto-detects via NO_COLOR/TERM).
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return slog.New(handler)
}

// WithRequest returns a logger carrying the request ID pulled from ctx, or
// the logger unchanged if none is set.
func WithRequest(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id := GetRequestID(ctx); id != "" {
		return log.With("request_id", id)
	}
	return log
}
