// Package logging provides structured logging for the conflict engine using
// Go's log/slog package.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/c0deZ3R0/docsync/errors"
)

// Logger is our wrapper around slog.Logger with additional convenience methods
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level" toml:"level"`                // trace, debug, info, warn, error
	Format      string `json:"format" yaml:"format" toml:"format"`             // text, json
	AddSource   bool   `json:"add_source" yaml:"add_source" toml:"add_source"` // whether to add source code information
	Environment string `json:"environment" yaml:"environment" toml:"environment"`

	// Output defaults to os.Stdout.
	Output io.Writer `json:"-" yaml:"-" toml:"-"`
}

// DefaultConfig is used by Default when Init has not been called.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: EnvProduction,
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Operation is a LogValuer for engine operations.
type Operation string

func (o Operation) LogValue() slog.Value {
	return slog.StringValue(string(o))
}

// Component is a LogValuer for engine components.
type Component string

func (c Component) LogValue() slog.Value {
	return slog.StringValue(string(c))
}

// Components used across the module.
const (
	ComponentDiffer       Component = "differ"
	ComponentClassifier   Component = "classifier"
	ComponentResolver     Component = "resolver"
	ComponentOrchestrator Component = "orchestrator"
	ComponentQueue        Component = "queue"
	ComponentSession      Component = "session"
	ComponentConfig       Component = "config"
	ComponentStore        Component = "store"
	ComponentNotify       Component = "notify"
)

// SyncErrorValuer provides structured logging for SyncError
type SyncErrorValuer struct {
	*errors.SyncError
}

func (e SyncErrorValuer) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("code", string(e.Code)),
		slog.String("kind", string(e.Kind)),
		slog.Bool("retryable", e.Retryable),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	if len(e.Metadata) > 0 {
		metadataAttrs := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			metadataAttrs = append(metadataAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Attr{Key: "metadata", Value: slog.GroupValue(metadataAttrs...)})
	}

	return slog.GroupValue(attrs...)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return slog.Level(LevelTrace)
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new logger with the provided configuration
func NewLogger(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(config.Level),
		AddSource: config.AddSource,
	}
	return &Logger{Logger: slog.New(newHandler(config, opts))}
}

func newHandler(config Config, opts *slog.HandlerOptions) slog.Handler {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	if config.Format == "text" || config.Environment == EnvDevelopment {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// Nop returns a logger that discards everything. Useful as a zero value.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Init initializes the global logger with the provided configuration
func Init(config Config) {
	l := NewLogger(config)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	slog.SetDefault(l.Logger)
}

// Default returns the default logger instance
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultConfig)
	}
	return defaultLogger
}

// WithOperation creates a child logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return &Logger{Logger: l.With(slog.Any("operation", op))}
}

// WithComponent creates a child logger with component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// WithDocument creates a child logger scoped to one document.
func (l *Logger) WithDocument(documentID string) *Logger {
	return &Logger{Logger: l.With(slog.String("document_id", documentID))}
}

type ctxKey int

const sessionIDKey ctxKey = iota

// ContextWithSessionID attaches a sync-session ID that WithContext picks up.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithContext creates a child logger carrying the context's session ID and attrs.
func (l *Logger) WithContext(ctx context.Context, attrs ...slog.Attr) *Logger {
	args := make([]any, 0, len(attrs)+1)
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		args = append(args, slog.String("session_id", id))
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return &Logger{Logger: l.With(args...)}
}

// LogError logs an error with caller information and structured attributes
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+2)

	if syncErr, ok := err.(*errors.SyncError); ok {
		args = append(args, slog.Any("sync_error", SyncErrorValuer{SyncError: syncErr}))
	} else if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		fnName := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			fnName = fn.Name()
		}
		args = append(args, slog.Group("caller",
			slog.String("file", file),
			slog.Int("line", line),
			slog.String("function", fnName),
		))
	}

	for _, attr := range attrs {
		args = append(args, attr)
	}

	l.ErrorContext(ctx, msg, args...)
}

// LogOperation logs the start and end of an operation with duration tracking
func (l *Logger) LogOperation(ctx context.Context, op Operation, component Component, fn func() error) error {
	start := time.Now()
	opLogger := l.WithOperation(op).WithComponent(component)

	opLogger.DebugContext(ctx, "operation started")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.LogError(ctx, err, "operation failed",
			slog.Duration("duration", duration),
			slog.Bool("success", false),
		)
		return err
	}

	opLogger.DebugContext(ctx, "operation completed",
		slog.Duration("duration", duration),
		slog.Bool("success", true),
	)
	return nil
}

// WithComponent returns a child of the default logger.
func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}

// WithOperation returns a child of the default logger.
func WithOperation(op Operation) *Logger {
	return Default().WithOperation(op)
}
