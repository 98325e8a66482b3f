package core

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger attaches a slog logger to the context.
// Callers should prefer passing a logger with useful correlation fields (e.g. chat_id, reason).
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// DefaultLogger ensures a non-nil logger is always available.
func DefaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// ComponentLogger returns a context-aware logger tagged with the component
// name plus the chat id and send reason carried by ctx.
func ComponentLogger(ctx context.Context, logger *slog.Logger, component string) *slog.Logger {
	if ctx != nil {
		if ctxLogger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && ctxLogger != nil {
			logger = ctxLogger
		}
	}
	logger = DefaultLogger(logger)
	if chatID := ChatIDFromContext(ctx); chatID != "" {
		logger = logger.With("chat_id", chatID)
	}
	if reason := ReasonFromContext(ctx); reason != "" {
		logger = logger.With("reason", reason)
	}
	return logger.With("component", component)
}
