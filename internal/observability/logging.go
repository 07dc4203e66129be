// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
)

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID carries the request ID into background work started by a request.
const CorrelationID LogContextKey = "correlation_id"

// LoggingConfig switches the automated log families on or off.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableWSLogging   bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging: true,
	EnableWSLogging:   true,
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// logger resolves the process logger per call so a handler installed at
// startup is picked up.
func logger() *slog.Logger {
	return slog.Default()
}

func withFields(attrs []any, fields map[string]any) []any {
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// RepoLogger records committed writes of one table.
type RepoLogger struct {
	table string
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{table: table}
}

func (l *RepoLogger) write(ctx context.Context, op string, fields map[string]any) {
	if !Config.EnableRepoLogging {
		return
	}
	attrs := []any{
		slog.String("table", l.table),
		slog.String("operation", op),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	logger().InfoContext(ctx, "repository "+op, withFields(attrs, fields)...)
}

// LogCreate logs a committed insert.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]any) {
	l.write(ctx, "create", fields)
}

// LogUpdate logs a committed update.
func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]any) {
	l.write(ctx, "update", fields)
}

// LogDelete logs a committed delete.
func (l *RepoLogger) LogDelete(ctx context.Context, fields map[string]any) {
	l.write(ctx, "delete", fields)
}

// LogError logs a failed write. Domain refusals such as not found or
// permission errors are the caller's to filter out.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging || err == nil {
		return
	}
	logger().ErrorContext(ctx, "repository error",
		slog.String("table", l.table),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
		slog.String("error", err.Error()),
	)
}

// WSLogger provides structured logging for WebSocket connections of one hub.
type WSLogger struct {
	hubName string
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName}
}

func (l *WSLogger) base(ctx context.Context, userID, spaceID string) []any {
	return []any{
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("space_id", spaceID),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID, spaceID string) {
	if !Config.EnableWSLogging {
		return
	}
	logger().InfoContext(ctx, "websocket connected", l.base(ctx, userID, spaceID)...)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID, spaceID, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := append(l.base(ctx, userID, spaceID), slog.String("reason", reason))
	logger().InfoContext(ctx, "websocket disconnected", attrs...)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID, spaceID string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := append(l.base(ctx, userID, spaceID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
	logger().ErrorContext(ctx, "websocket error", attrs...)
}

// LogMessage logs an incoming WebSocket message.
func (l *WSLogger) LogMessage(ctx context.Context, userID, spaceID, messageType string) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := append(l.base(ctx, userID, spaceID), slog.String("message_type", messageType))
	logger().DebugContext(ctx, "websocket message", attrs...)
}

// LogLifecycle logs a hub lifecycle event such as wiring start or shutdown.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]any) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}
	logger().InfoContext(ctx, "websocket lifecycle", withFields(attrs, fields)...)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]any) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	logger().DebugContext(ctx, "async operation started", withFields(attrs, fields)...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]any) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	logger().InfoContext(ctx, "async operation completed", withFields(attrs, fields)...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]any) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	logger().ErrorContext(ctx, "async operation failed", withFields(attrs, fields)...)
}
