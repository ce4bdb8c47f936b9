// Package observability provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing helpers for the memory core.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with request correlation and sensitive-data redaction.
//
// Components receive a *Logger; a nil logger is safe to use and discards all
// output, so library code never needs nil checks at call sites.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" (production) or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool

	// RedactPatterns are additional regex patterns for secret redaction on
	// top of the built-in ones.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in log correlation.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// ThreadIDKey is the context key for conversational thread IDs.
	ThreadIDKey ContextKey = "thread_id"

	// UserIDKey is the context key for user IDs.
	UserIDKey ContextKey = "user_id"
)

// defaultRedactPatterns covers the secrets most likely to leak into memory
// payloads and connection strings.
var defaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-[a-zA-Z0-9]{32,}`,
	`postgres(ql)?://[^:]+:([^@\s]+)@`,
}

// NewLogger creates a structured logger. Empty level defaults to "info";
// empty format defaults to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, defaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a logger with additional persistent key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.logger == nil {
		return l
	}
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}

	attrs := make([]any, 0, len(args)+6)
	if ctx != nil {
		if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
			attrs = append(attrs, slog.String("request_id", v))
		}
		if v, ok := ctx.Value(ThreadIDKey).(string); ok && v != "" {
			attrs = append(attrs, slog.String("thread_id", v))
		}
		if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
			attrs = append(attrs, slog.String("user_id", v))
		}
	}
	for _, arg := range args {
		attrs = append(attrs, l.redactValue(arg))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, l.redactString(msg), attrs...)
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		if val == nil {
			return v
		}
		return l.redactString(val.Error())
	case fmt.Stringer:
		return l.redactString(val.String())
	default:
		return v
	}
}
