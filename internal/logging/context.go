package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := base.WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TraceIDFromContext returns the trace ID set by WithTraceContext, or ""
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// ScanContext creates a logger context for one scan cycle
func ScanContext(base *Logger, scanID string) *Logger {
	return base.WithFields(map[string]interface{}{
		"scan_id": scanID,
	}).WithComponent("scanner")
}

// SignalContext creates a logger context for a detected signal
func SignalContext(base *Logger, symbol, direction, pattern string) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"direction": direction,
		"pattern":   pattern,
	})
}

// ProviderContext creates a logger context for market-data calls
func ProviderContext(endpoint, symbol string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"ticker":   symbol,
	}).WithComponent("marketdata")
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// NotificationContext creates a logger context for notifications
func NotificationContext(provider, recipient string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"provider":  provider,
		"recipient": recipient,
	}).WithComponent("notification")
}

// APIContext adds request fields to base
func APIContext(base *Logger, method, path string, statusCode int) *Logger {
	return base.WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}
