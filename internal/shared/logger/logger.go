package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// ContextKey is the type for context keys used in logging
type ContextKey string

const (
	// ServerIDKey is the context key for server IDs
	ServerIDKey ContextKey = "server_id"
	// TaskIDKey is the context key for provisioning task IDs
	TaskIDKey ContextKey = "task_id"
	// OperationKey is the context key for operation names
	OperationKey ContextKey = "operation"
)

// Logger wraps slog.Logger with additional helper methods
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified level and format writing to
// stderr. stderr keeps diagnostics away from stdout, which the agent
// reserves for its JSON task result.
func New(level, format string) *Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a new Logger writing to the given file
func NewWithWriter(level, format string, w *os.File) *Logger {
	var handler slog.Handler

	// Parse level
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithComponent returns a new logger tagged with a component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", component)),
	}
}

// WithServerID returns a new logger with the server ID in context
func (l *Logger) WithServerID(serverID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("server_id", serverID)),
	}
}

// WithTaskID returns a new logger with the task ID in context
func (l *Logger) WithTaskID(taskID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("task_id", taskID)),
	}
}

// WithOperation returns a new logger with the operation name in context
func (l *Logger) WithOperation(operation string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("operation", operation)),
	}
}

// WithContext extracts common fields from context and returns a new logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if serverID, ok := ctx.Value(ServerIDKey).(string); ok && serverID != "" {
		logger = logger.With(slog.String("server_id", serverID))
	}

	if taskID, ok := ctx.Value(TaskIDKey).(string); ok && taskID != "" {
		logger = logger.With(slog.String("task_id", taskID))
	}

	if operation, ok := ctx.Value(OperationKey).(string); ok && operation != "" {
		logger = logger.With(slog.String("operation", operation))
	}

	return &Logger{Logger: logger}
}

// InfoContext logs at Info level with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// DebugContext logs at Debug level with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// WarnContext logs at Warn level with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

// ErrorContext logs at Error level with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(msg, args...)
}

// LogTaskStart logs the start of a provisioning task
func (l *Logger) LogTaskStart(ctx context.Context, command, serverName string) {
	l.WithContext(ctx).Info("starting provisioning task",
		slog.String("command", command),
		slog.String("server_name", serverName),
	)
}

// LogTaskSuccess logs a completed provisioning task
func (l *Logger) LogTaskSuccess(ctx context.Context, command string, duration time.Duration) {
	l.WithContext(ctx).Info("provisioning task completed",
		slog.String("command", command),
		slog.Duration("duration", duration),
	)
}

// LogTaskFailure logs a failed provisioning task
func (l *Logger) LogTaskFailure(ctx context.Context, command string, err error) {
	l.WithContext(ctx).Error("provisioning task failed",
		slog.String("command", command),
		slog.String("error", err.Error()),
	)
}

// AddServerIDToContext adds a server ID to the context
func AddServerIDToContext(ctx context.Context, serverID string) context.Context {
	return context.WithValue(ctx, ServerIDKey, serverID)
}

// AddTaskIDToContext adds a task ID to the context
func AddTaskIDToContext(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// AddOperationToContext adds an operation name to the context
func AddOperationToContext(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}
