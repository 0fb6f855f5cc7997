// Package observability provides structured logging and Prometheus metrics
// for the gateway.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with request correlation and redaction of sensitive
// values. Log output never carries raw API keys or bearer tokens.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string
	// Format is "json" (production) or "text" (development).
	Format string
	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer
	// AddSource includes file and line number in log records.
	AddSource bool
	// RedactPatterns are additional regex patterns for sensitive data.
	RedactPatterns []string
}

// ContextKey is the type for context keys carried into log records.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"
	// ChatIDKey is the context key for conversation IDs.
	ChatIDKey ContextKey = "chat_id"
	// UserIDKey is the context key for user IDs.
	UserIDKey ContextKey = "user_id"
	// ProviderKey is the context key for the active LLM provider.
	ProviderKey ContextKey = "provider"
)

// DefaultRedactPatterns covers the common secret shapes in this codebase.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	// OpenAI API keys
	`sk-[a-zA-Z0-9]{48,}`,
	// Google AI Studio keys
	`AIza[a-zA-Z0-9_-]{35}`,
	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger creates a structured logger. Empty config fields default to
// info-level JSON on stdout.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0)
	allPatterns := append(DefaultRedactPatterns, config.RedactPatterns...)
	for _, pattern := range allPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
	}
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

// Error logs an error-level message with optional key-value pairs. Error
// values in args are redacted like strings.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redactedArgs := make([]any, len(args))
	for i, arg := range args {
		redactedArgs[i] = l.redactValue(arg)
	}

	attrs := make([]any, 0, len(redactedArgs)+8)
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if chatID, ok := ctx.Value(ChatIDKey).(string); ok && chatID != "" {
		attrs = append(attrs, "chat_id", chatID)
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		attrs = append(attrs, "user_id", userID)
	}
	if provider, ok := ctx.Value(ProviderKey).(string); ok && provider != "" {
		attrs = append(attrs, "provider", provider)
	}
	attrs = append(attrs, redactedArgs...)

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil && strings.ContainsAny(string(b), "{[\"") {
			redacted := l.redactString(string(b))
			if redacted != string(b) {
				return redacted
			}
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	sensitiveKeys := map[string]bool{
		"password": true,
		"passwd":   true,
		"secret":   true,
		"token":    true,
		"api_key":  true,
		"apikey":   true,
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(k)] {
			result[k] = "[REDACTED]"
			continue
		}
		result[k] = l.redactValue(v)
	}
	return result
}

// NopLogger returns a logger that discards everything. For tests.
func NopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}
