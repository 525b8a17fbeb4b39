package lib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging for the application.
// Its method set also satisfies retryablehttp.LeveledLogger.
type Logger struct {
	level  *slog.LevelVar
	logger *slog.Logger
	closer io.Closer
}

// NewLogger creates a logger writing text to stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriters(os.Stderr, nil, level)
}

// NewLoggerWithFile creates a logger writing text to stderr and JSON to logFile.
// Falls back to stderr only if the file cannot be opened.
func NewLoggerWithFile(level LogLevel, logFile string) *Logger {
	if logFile == "" {
		return NewLogger(level)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l := NewLogger(level)
		l.Error("failed to open log file, using stderr only", "file", logFile, "error", err)
		return l
	}

	l := NewLoggerWithWriters(os.Stderr, file, level)
	l.closer = file
	return l
}

// NewLoggerWithWriters creates a logger with a text writer and an optional JSON writer
func NewLoggerWithWriters(text io.Writer, jsonOut io.Writer, level LogLevel) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())
	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler = slog.NewTextHandler(text, opts)
	if jsonOut != nil {
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(jsonOut, opts))
	}

	return &Logger{level: lv, logger: slog.New(handler)}
}

// DefaultLogger returns a logger with INFO level
var DefaultLogger = NewLogger(LogLevelInfo)

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	l.log(slog.LevelDebug, message, fields...)
}

// Info logs an informational message
func (l *Logger) Info(message string, fields ...interface{}) {
	l.log(slog.LevelInfo, message, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	l.log(slog.LevelWarn, message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	l.log(slog.LevelError, message, fields...)
}

func (l *Logger) log(level slog.Level, message string, fields ...interface{}) {
	l.logger.Log(context.Background(), level, message, fields...)
}

// With returns a logger that adds fields to every message
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{level: l.level, logger: l.logger.With(fields...)}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogOperation logs the start and completion of an operation
func LogOperation(logger *Logger, operation string, fn func() error) error {
	logger.Info(fmt.Sprintf("Starting: %s", operation))
	start := time.Now()

	err := fn()

	duration := time.Since(start)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed: %s", operation), "duration", duration, "error", err)
		return err
	}

	logger.Info(fmt.Sprintf("Completed: %s", operation), "duration", duration)
	return nil
}

// LogRetry logs retry attempts
func LogRetry(logger *Logger, operation string, attempt int, maxAttempts int, err error) {
	// Remove line breaks from operation to prevent log spoofing
	safeOperation := strings.ReplaceAll(operation, "\n", "")
	safeOperation = strings.ReplaceAll(safeOperation, "\r", "")
	logger.Warn(
		fmt.Sprintf("Retry attempt %d/%d for: %s", attempt+1, maxAttempts, safeOperation),
		"error", err,
	)
}

// LogRunCreated logs run creation
func LogRunCreated(logger *Logger, runID string, release string, storageRoot string) {
	logger.Info(
		"Run created",
		"run_id", runID,
		"release", release,
		"storage_root", storageRoot,
	)
}

// LogRunCompleted logs the end of a run
func LogRunCompleted(logger *Logger, runID string, status string, files int, failed int, duration time.Duration) {
	logger.Info(
		"Run completed",
		"run_id", runID,
		"status", status,
		"files", files,
		"failed", failed,
		"duration", duration,
	)
}

// LogWorkerState logs a worker state transition
func LogWorkerState(logger *Logger, source string, from string, to string) {
	logger.Debug(
		"Worker state",
		"source", redactURL(source),
		"from", from,
		"to", to,
	)
}

// LogBatchCommitted logs a committed batch
func LogBatchCommitted(logger *Logger, source string, batch int, records int, partitions int) {
	logger.Debug(
		"Batch committed",
		"source", redactURL(source),
		"batch", batch,
		"records", records,
		"partitions", partitions,
	)
}

// LogWorkerFailed logs a failed worker
func LogWorkerFailed(logger *Logger, source string, state string, err error) {
	logger.Error(
		"Worker failed",
		"source", redactURL(source),
		"state", state,
		"error", err,
	)
}

// LogServiceCall logs HTTP service calls
func LogServiceCall(logger *Logger, service string, endpoint string, method string) {
	logger.Debug(
		"Service call",
		"service", service,
		"endpoint", redactURL(endpoint),
		"method", method,
	)
}

// LogServiceResponse logs HTTP service responses
func LogServiceResponse(logger *Logger, service string, statusCode int, duration time.Duration) {
	if statusCode >= 400 {
		logger.Warn(
			"Service response",
			"service", service,
			"status", statusCode,
			"duration", duration,
		)
	} else {
		logger.Debug(
			"Service response",
			"service", service,
			"status", statusCode,
			"duration", duration,
		)
	}
}
