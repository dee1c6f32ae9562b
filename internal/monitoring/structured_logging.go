package monitoring

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a configuration string to a LogLevel. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
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

// LogFormat represents the output format for logs
type LogFormat int

const (
	FormatJSON LogFormat = iota
	FormatText
)

// ParseFormat maps a configuration string to a LogFormat. Unknown values fall back to JSON.
func ParseFormat(s string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(s), "text") {
		return FormatText
	}
	return FormatJSON
}

// Logger is the logging surface used across the lifecycle packages.
// Arguments after the message are slog key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StructuredLogger writes leveled key/value records through slog.
type StructuredLogger struct {
	logger    *slog.Logger
	component string
}

// LoggerConfig configures the structured logger
type LoggerConfig struct {
	Level     LogLevel
	Format    LogFormat
	Output    io.Writer
	Component string
	Fields    map[string]any
}

// NewStructuredLogger creates a new structured logger with the given configuration
func NewStructuredLogger(config LoggerConfig) *StructuredLogger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.Level == LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(config.Output, opts)
	default:
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	attrs := []any{"service", "gdprvault"}
	if config.Component != "" {
		attrs = append(attrs, "component", config.Component)
	}
	for k, v := range config.Fields {
		attrs = append(attrs, k, v)
	}

	return &StructuredLogger{
		logger:    slog.New(handler).With(attrs...),
		component: config.Component,
	}
}

// With returns a logger that adds the given key/value pairs to every record.
func (l *StructuredLogger) With(args ...any) *StructuredLogger {
	return &StructuredLogger{
		logger:    l.logger.With(args...),
		component: l.component,
	}
}

// Component returns a child logger for a named subsystem.
func (l *StructuredLogger) Component(name string) *StructuredLogger {
	return &StructuredLogger{
		logger:    l.logger.With("component", name),
		component: name,
	}
}

func (l *StructuredLogger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (l *StructuredLogger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

func (l *StructuredLogger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

func (l *StructuredLogger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// LogSecurityEvent records access to personal data or a change in its lifecycle.
func (l *StructuredLogger) LogSecurityEvent(ctx context.Context, event string, severity string, args ...any) {
	attrs := append([]any{"event", event, "severity", severity}, args...)
	level := slog.LevelInfo
	switch severity {
	case "critical", "high":
		level = slog.LevelError
	case "medium":
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "security event", attrs...)
}

// NewProductionLogger creates the logger of a deployed process. Records go to out,
// never to the stream carrying command output, and carry the process id.
func NewProductionLogger(out io.Writer, component, level, format string) *StructuredLogger {
	return NewStructuredLogger(LoggerConfig{
		Level:     ParseLevel(level),
		Format:    ParseFormat(format),
		Output:    out,
		Component: component,
		Fields: map[string]any{
			"pid": os.Getpid(),
		},
	})
}

// NewDiscardLogger returns a logger that drops every record.
func NewDiscardLogger() *StructuredLogger {
	return NewStructuredLogger(LoggerConfig{Level: LevelError, Output: io.Discard})
}
