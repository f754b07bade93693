// Package logging provides structured logging for the dealmemo services.
// It wraps zerolog with a small field-based interface, JSON output for
// deployed processes and console output for local runs.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys carried into log lines by WithContext.
const (
	TraceIDKey   ContextKey = "trace_id"
	RequestIDKey ContextKey = "request_id"
	JobIDKey     ContextKey = "job_id"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a case-insensitive level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level.
	Level Level

	// ServiceName is included in all log entries.
	ServiceName string

	// Environment is included in all log entries.
	Environment string

	// JSONFormat enables JSON output when true, console output when false.
	JSONFormat bool

	// Output defaults to os.Stdout.
	Output io.Writer

	// Sinks receive a copy of every entry for async persistence.
	Sinks []Sink
}

// DefaultConfig returns a Config suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "dealmemo",
		Environment: "development",
		Output:      os.Stdout,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that attaches fields to every subsequent entry.
	With(fields ...Field) Logger

	// WithContext returns a Logger carrying the trace, request and job ids found in ctx.
	WithContext(ctx context.Context) Logger
}

// Field is a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

type logger struct {
	zl          zerolog.Logger
	serviceName string
	sinks       []Sink
	// bound holds fields attached via With so sinks see them too.
	bound []Field
}

// NewLogger creates a Logger from cfg. A nil cfg uses DefaultConfig.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).
		Level(toZerolog(cfg.Level)).
		With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger()

	return &logger{zl: zl, serviceName: cfg.ServiceName, sinks: cfg.Sinks}
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) {
	l.emit(l.zl.Debug(), LevelDebug, msg, fields)
}

func (l *logger) Info(msg string, fields ...Field) {
	l.emit(l.zl.Info(), LevelInfo, msg, fields)
}

func (l *logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), LevelWarn, msg, fields)
}

func (l *logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), LevelError, msg, fields)
}

func (l *logger) emit(event *zerolog.Event, level Level, msg string, fields []Field) {
	// event is nil when the level is disabled.
	if event == nil {
		return
	}
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
	l.sendToSinks(level, msg, fields)
}

func (l *logger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = addContextField(ctx, f)
	}
	bound := make([]Field, 0, len(l.bound)+len(fields))
	bound = append(bound, l.bound...)
	bound = append(bound, fields...)
	return &logger{zl: ctx.Logger(), serviceName: l.serviceName, sinks: l.sinks, bound: bound}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	for _, key := range []ContextKey{TraceIDKey, RequestIDKey, JobIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, F(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case float64:
		return event.Float64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case error:
		return event.Err(v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case time.Time:
		return event.Time(f.Key, v)
	case fmt.Stringer:
		return event.Stringer(f.Key, v)
	default:
		return event.Interface(f.Key, v)
	}
}

func addContextField(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case error:
		return ctx.AnErr(f.Key, v)
	case fmt.Stringer:
		return ctx.Stringer(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

func (l *logger) sendToSinks(level Level, msg string, fields []Field) {
	if len(l.sinks) == 0 {
		return
	}

	values := make(map[string]string, len(l.bound)+len(fields))
	for _, f := range l.bound {
		values[f.Key] = fieldString(f.Value)
	}
	for _, f := range fields {
		values[f.Key] = fieldString(f.Value)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     string(level),
		Service:   l.serviceName,
		Message:   msg,
		Fields:    values,
		JobID:     values[string(JobIDKey)],
		TraceID:   values[string(TraceIDKey)],
		Caller:    getCaller(4),
	}
	for _, sink := range l.sinks {
		sink.Write(entry)
	}
}

func fieldString(v interface{}) string {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return fmt.Sprint(v)
}

var global Logger

// SetGlobal sets the package-level logger.
func SetGlobal(l Logger) {
	global = l
}

// Global returns the package-level logger, initializing a default one if unset.
func Global() Logger {
	if global == nil {
		global = NewLogger(DefaultConfig())
	}
	return global
}

type nopLogger struct{}

func (n *nopLogger) Debug(string, ...Field)              {}
func (n *nopLogger) Info(string, ...Field)               {}
func (n *nopLogger) Warn(string, ...Field)               {}
func (n *nopLogger) Error(string, ...Field)              {}
func (n *nopLogger) With(...Field) Logger                { return n }
func (n *nopLogger) WithContext(context.Context) Logger  { return n }

// NewNopLogger returns a logger that discards all output.
func NewNopLogger() Logger {
	return &nopLogger{}
}
