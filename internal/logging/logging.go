// Package logging provides the SDK's structured logger: slog with
// level control, key redaction, and rate-limited warnings for
// conditions that would otherwise spam every span.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/honeyhiveai/honeyhive-go/internal/cache"
)

// Logger wraps slog with sensitive-data redaction and per-key warning
// suppression.
//
// Usage:
//
//	logger := logging.New(logging.Config{Verbose: true})
//	logger.Info(ctx, "session started", "session_id", id)
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
	once    *cache.Window
}

// warnWindow is how often a suppressed warning key resurfaces, and
// warnKeys bounds how many keys are tracked.
const (
	warnWindow = time.Hour
	warnKeys   = 1024
)

// Config configures the logging behavior.
type Config struct {
	// Verbose lowers the minimum level to debug.
	Verbose bool

	// Format specifies the output format: "text" (default) or "json".
	Format string

	// Output is the writer for log output (defaults to os.Stderr; the
	// SDK must never write telemetry chatter to stdout).
	Output io.Writer

	// RedactPatterns are additional regex patterns applied on top of
	// the built-in secret patterns.
	RedactPatterns []string
}

// ContextKey is the type for context keys the logger extracts.
type ContextKey string

const (
	// SessionIDKey is the context key for session IDs.
	SessionIDKey ContextKey = "session_id"

	// TracerIDKey is the context key for tracer instance IDs.
	TracerIDKey ContextKey = "tracer_id"
)

// DefaultRedactPatterns covers the secret shapes that can reach log
// arguments: HoneyHive and vendor API keys, bearer tokens, JWTs.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// New creates a logger with the given configuration.
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(DefaultRedactPatterns, config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: redacts,
		once:    cache.NewWindow(cache.WindowConfig{TTL: warnWindow, MaxSize: warnKeys}),
	}
}

// Nop returns a logger that discards everything. Disabled tracers use
// it so their method calls stay safe.
func Nop() *Logger {
	return &Logger{
		logger: slog.New(slog.DiscardHandler),
		once:   cache.NewWindow(cache.WindowConfig{TTL: warnWindow, MaxSize: warnKeys}),
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

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// WarnOnce logs msg at warn level the first time key is seen, then
// suppresses repeats of the same key for an hour. Extraction uses it
// for unknown transforms (one warning per provider/transform pair,
// not one per span) and the lifecycle uses it for degraded-mode
// transitions.
func (l *Logger) WarnOnce(ctx context.Context, key, msg string, args ...any) {
	if !l.once.Admit(key) {
		return
	}
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// WithFields returns a logger with the given fields added to all
// records.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		redacts: l.redacts,
		once:    l.once,
	}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	msg = l.redactString(msg)

	attrs := make([]any, 0, len(args)+4)
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if tracerID, ok := ctx.Value(TracerIDKey).(string); ok && tracerID != "" {
		attrs = append(attrs, "tracer_id", tracerID)
	}
	for _, arg := range args {
		attrs = append(attrs, l.redactValue(arg))
	}

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
	sensitive := map[string]bool{
		"api_key":       true,
		"apikey":        true,
		"authorization": true,
		"auth":          true,
		"token":         true,
		"secret":        true,
		"password":      true,
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		if sensitive[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
			result[k] = "[REDACTED]"
		} else {
			result[k] = l.redactValue(v)
		}
	}
	return result
}

// RedactJSON marshals v and redacts the result, for debug logging of
// payloads.
func (l *Logger) RedactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<unmarshalable>"
	}
	return l.redactString(string(b))
}

// WithSessionID adds a session ID to the context for log correlation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithTracerID adds a tracer instance ID to the context.
func WithTracerID(ctx context.Context, tracerID string) context.Context {
	return context.WithValue(ctx, TracerIDKey, tracerID)
}
