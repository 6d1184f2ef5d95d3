// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// Components receive a Logger and derive module-scoped children from it:
//
//	central, err := logger.NewCentralLogger(&logger.LoggingConfig{DefaultLevel: "info"})
//	if err != nil {
//	    return err
//	}
//	defer central.Close()
//
//	log := central.Module("poller")
//	log.Info("record processed",
//	    logger.String("key", "2024-05-01/10:00:00"),
//	    logger.Bool("pest", true))
//
// Child modules are joined with a dot, so central.Module("api").Module("upload") logs with
// module="api.upload". Fields attached through With are carried by every subsequent entry.
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel names a severity accepted by Logger.Log and the configuration.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value any
}

// internKey deduplicates field keys; the same handful of keys is logged on every request.
func internKey(key string) string {
	return unique.Make(key).Value()
}

// Logger is the logging interface injected into every component.
type Logger interface {
	// Module returns a child logger scoped to name.
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Log writes at a dynamic level; unknown levels log at info.
	Log(level LogLevel, msg string, fields ...Field)

	// With returns a logger that includes fields in every entry.
	With(fields ...Field) Logger

	// WithContext returns a logger carrying the trace ID stored in ctx, if any.
	WithContext(ctx context.Context) Logger

	// Flush writes any buffered entries.
	Flush() error
}

func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

func Float32(key string, value float32) Field {
	return Field{Key: internKey(key), Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates a field under the "error" key. A nil error yields a nil value.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field of arbitrary type. Prefer the typed constructors.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
