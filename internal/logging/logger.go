// Package logging provides structured logging for ssh-fleet.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"ssh-fleet/internal/target"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress everything below error
}

// Logger wraps slog.Logger with the fleet's logging conventions.
// Credentials and key paths are never passed to it.
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *Logger {
	return NewLogger(Config{Level: LevelError, Output: io.Discard})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds the given attributes to every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		config: l.config,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning
func (l *Logger) Warn(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogConnection logs SSH connection information
func (l *Logger) LogConnection(t target.Target, duration time.Duration, osFamily string) {
	l.Info("ssh connection established",
		"server", t.Name,
		"host", t.Host,
		"user", t.User,
		"port", t.Port,
		"os_family", osFamily,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogConnectionError logs SSH connection errors
func (l *Logger) LogConnectionError(t target.Target, err error) {
	l.Error("ssh connection failed",
		"server", t.Name,
		"host", t.Host,
		"user", t.User,
		"port", t.Port,
		"error", err.Error(),
	)
}

// LogConnectionWarning logs security warnings for connections
func (l *Logger) LogConnectionWarning(hostname string, message string) {
	l.Warn("connection security warning",
		"host", hostname,
		"warning", message,
	)
}

// LogExecution logs a finished remote command. The command text is only
// recorded at debug level.
func (l *Logger) LogExecution(t target.Target, command string, exitStatus int, duration time.Duration) {
	l.Debug("command executed",
		"server", t.Name,
		"host", t.Host,
		"command", command,
		"exit_status", exitStatus,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogRetry logs a retry about to happen
func (l *Logger) LogRetry(label string, attempt int, backoff time.Duration, err error) {
	l.Warn("operation failed, retrying",
		"operation", label,
		"attempt", attempt,
		"backoff_ms", backoff.Milliseconds(),
		"error", err.Error(),
	)
}

// LogRetryExhausted logs the final failure of a retried operation
func (l *Logger) LogRetryExhausted(label string, attempts int, err error) {
	l.Error("operation failed",
		"operation", label,
		"attempts", attempts,
		"error", err.Error(),
	)
}

// LogTaskStart logs a worker picking up a task
func (l *Logger) LogTaskStart(worker int, index int, t target.Target) {
	l.Debug("task started",
		"worker", worker,
		"index", index,
		"server", t.Name,
		"host", t.Host,
	)
}

// LogTaskSuccess logs a task that finished successfully
func (l *Logger) LogTaskSuccess(index int, t target.Target, attempts int, duration time.Duration) {
	l.Info("task succeeded",
		"index", index,
		"server", t.Name,
		"attempts", attempts,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogTaskFailure logs a task that failed after all retries
func (l *Logger) LogTaskFailure(index int, t target.Target, attempts int, err error) {
	l.Error("task failed",
		"index", index,
		"server", t.Name,
		"host", t.Host,
		"attempts", attempts,
		"error", err.Error(),
	)
}

// LogExecutorStart logs the start of executor operations
func (l *Logger) LogExecutorStart(taskCount int, workers int, retries uint) {
	l.Info("executor started",
		"task_count", taskCount,
		"workers", workers,
		"max_retry", retries,
	)
}

// LogExecutorComplete logs the completion of executor operations
func (l *Logger) LogExecutorComplete(taskCount int, successCount int, failureCount int, duration time.Duration) {
	l.Info("executor completed",
		"task_count", taskCount,
		"success_count", successCount,
		"failure_count", failureCount,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogShellEvent logs a lifecycle event of an interactive shell
func (l *Logger) LogShellEvent(server string, event string, args ...any) {
	l.Info("shell "+event, append([]any{"server", server}, args...)...)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded",
		"source", source,
	)
}

// LogConfigError logs configuration errors
func (l *Logger) LogConfigError(source string, err error) {
	l.Error("configuration error",
		"source", source,
		"error", err.Error(),
	)
}

// LogTargetParsing logs target parsing information
func (l *Logger) LogTargetParsing(source string, count int) {
	l.Info("servers loaded",
		"source", source,
		"count", count,
	)
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool, output io.Writer) *Logger {
	var level LogLevel
	switch logLevel {
	case "debug":
		level = LevelDebug
	case "info":
		level = LevelInfo
	case "error":
		level = LevelError
	default:
		level = LevelWarn
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	default:
		format = FormatText
	}

	return NewLogger(Config{
		Level:  level,
		Format: format,
		Output: output,
		Quiet:  quiet,
	})
}
