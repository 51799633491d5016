package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Fields represents structured logging fields.
type Fields map[string]any

// ParseLevel maps a config string onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, level)
	}
}

// SetupLogger configures the global logger with appropriate settings.
func SetupLogger(level slog.Level, format string) error {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "console", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrInvalidConfig, format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return nil
}

// LogError logs err at error level with additional context.
func LogError(l *slog.Logger, err error, msg string, fields Fields) {
	logWithFields(l, slog.LevelError, err, msg, fields)
}

// LogWarn logs err at warn level. Used for failures that are swallowed on purpose.
func LogWarn(l *slog.Logger, err error, msg string, fields Fields) {
	logWithFields(l, slog.LevelWarn, err, msg, fields)
}

// LogInfo logs an info message with fields.
func LogInfo(l *slog.Logger, msg string, fields Fields) {
	logWithFields(l, slog.LevelInfo, nil, msg, fields)
}

// LogDebug logs a debug message with fields.
func LogDebug(l *slog.Logger, msg string, fields Fields) {
	logWithFields(l, slog.LevelDebug, nil, msg, fields)
}

func logWithFields(l *slog.Logger, level slog.Level, err error, msg string, fields Fields) {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	LoggerOrDefault(l).LogAttrs(context.Background(), level, msg, attrs...)
}

// LoggerOrDefault returns l, or the process default logger when l is nil.
func LoggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
