package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	moduleKey  = "module"
	traceIDKey = "trace_id"

	// LevelTrace sits below slog's debug level.
	LevelTrace = slog.Level(-8)

	floatPrecisionRatio = 1000
)

type traceIDContextKey struct{}

// TraceIDKey is the context key under which WithTraceID stores a trace ID.
var TraceIDKey = traceIDContextKey{}

var globalLogger atomic.Pointer[CentralLogger]

// SetGlobal installs cl as the process-wide logger returned by Global.
func SetGlobal(cl *CentralLogger) {
	globalLogger.Store(cl)
}

// Global returns the process-wide logger, or a console logger at info level
// when SetGlobal has not been called yet.
func Global() *CentralLogger {
	if cl := globalLogger.Load(); cl != nil {
		return cl
	}
	cl, err := NewCentralLogger(&LoggingConfig{DefaultLevel: DefaultLogLevel})
	if err != nil {
		// The default config has no file output and a known timezone.
		panic(err)
	}
	globalLogger.CompareAndSwap(nil, cl)
	return globalLogger.Load()
}

// WithTraceID returns a context carrying traceID for Logger.WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// CentralLogger owns the output handlers and hands out module-scoped loggers.
type CentralLogger struct {
	config       *LoggingConfig
	timezone     *time.Location
	baseHandler  slog.Handler
	defaultLevel slog.Level
	moduleLevels map[string]slog.Level

	mu      sync.Mutex
	file    io.WriteCloser
	console io.Writer
}

// NewCentralLogger creates a centralized logger with module routing
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	return newCentralLogger(cfg, os.Stdout)
}

// newCentralLogger allows tests to capture console output.
func newCentralLogger(cfg *LoggingConfig, console io.Writer) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	var tz *time.Location
	switch cfg.Timezone {
	case "", "Local":
		tz = time.Local
	default:
		var err error
		tz, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
	}

	cl := &CentralLogger{
		config:       cfg,
		timezone:     tz,
		defaultLevel: parseLogLevel(cfg.DefaultLevel),
		moduleLevels: make(map[string]slog.Level, len(cfg.ModuleLevels)),
		console:      console,
	}
	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	if err := cl.createBaseHandler(); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}
	return cl, nil
}

// createBaseHandler creates the default handler for console and/or file output
func (cl *CentralLogger) createBaseHandler() error {
	var handlers []slog.Handler

	if cl.config.Console.Enabled && cl.console != nil {
		handlers = append(handlers, slog.NewTextHandler(cl.console, &slog.HandlerOptions{
			Level:       parseLogLevel(cl.config.Console.Level),
			ReplaceAttr: cl.replaceAttr(true),
		}))
	}

	if cl.config.FileOutput.Enabled {
		if err := ensureFileDirectory(cl.config.FileOutput.Path); err != nil {
			return err
		}
		if rotation := RotationConfigFromFileOutput(cl.config.FileOutput); rotation.IsEnabled() {
			cl.file = newRotatingWriter(cl.config.FileOutput.Path, rotation)
		} else {
			f, err := os.OpenFile(cl.config.FileOutput.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", cl.config.FileOutput.Path, err)
			}
			cl.file = f
		}
		handlers = append(handlers, slog.NewJSONHandler(cl.file, &slog.HandlerOptions{
			Level:       parseLogLevel(cl.config.FileOutput.Level),
			ReplaceAttr: cl.replaceAttr(false),
		}))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, nil))
	}
	cl.baseHandler = newMultiWriterHandler(handlers...)
	return nil
}

// replaceAttr names the trace level, converts timestamps to the configured
// timezone and, for console output, drops them entirely.
func (cl *CentralLogger) replaceAttr(console bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if console {
				return slog.Attr{}
			}
			return slog.String(slog.TimeKey, a.Value.Time().In(cl.timezone).Format(time.RFC3339))
		case slog.LevelKey:
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
		}
		return a
	}
}

// Module returns a logger scoped to name.
func (cl *CentralLogger) Module(name string) Logger {
	return &moduleLogger{
		central: cl,
		logger:  slog.New(cl.baseHandler),
		module:  name,
		level:   cl.levelFor(name),
	}
}

// Slog exposes the central handler as a *slog.Logger tagged with module, for
// libraries that accept one directly.
func (cl *CentralLogger) Slog(module string) *slog.Logger {
	l := slog.New(cl.baseHandler)
	if module != "" {
		l = l.With(slog.String(moduleKey, module))
	}
	return l
}

// levelFor returns the most specific configured level for a dotted module name.
func (cl *CentralLogger) levelFor(module string) slog.Level {
	for name := module; name != ""; {
		if lvl, ok := cl.moduleLevels[name]; ok {
			return lvl
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return cl.defaultLevel
}

type syncer interface {
	Sync() error
}

// Flush syncs the log file, if any. Rotating writers write through and have
// nothing to sync.
func (cl *CentralLogger) Flush() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if s, ok := cl.file.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	if s, ok := cl.file.(syncer); ok {
		_ = s.Sync()
	}
	err := cl.file.Close()
	cl.file = nil
	return err
}

func ensureFileDirectory(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type moduleLogger struct {
	central *CentralLogger
	logger  *slog.Logger
	module  string
	level   slog.Level
	fields  []Field
}

func (m *moduleLogger) Module(name string) Logger {
	full := name
	if m.module != "" {
		full = m.module + "." + name
	}
	return &moduleLogger{
		central: m.central,
		logger:  m.logger,
		module:  full,
		level:   m.central.levelFor(full),
		fields:  m.fields,
	}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(LevelTrace, msg, fields...) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields...) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields...) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields...) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields...) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseLogLevel(string(level)), msg, fields...)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(m.fields)+len(fields))
	merged = append(merged, m.fields...)
	merged = append(merged, fields...)
	return &moduleLogger{
		central: m.central,
		logger:  m.logger,
		module:  m.module,
		level:   m.level,
		fields:  merged,
	}
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	traceID := getTraceIDFromContext(ctx)
	if traceID == "" {
		return m
	}
	return m.With(String(traceIDKey, traceID))
}

func (m *moduleLogger) Flush() error {
	return m.central.Flush()
}

func (m *moduleLogger) log(level slog.Level, msg string, fields ...Field) {
	if m == nil || level < m.level {
		return
	}
	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))
	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for i := range m.fields {
		attrs = append(attrs, fieldToAttr(m.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// roundFloat rounds to 3 decimal places for cleaner output.
func roundFloat(val float64) float64 {
	return math.Round(val*floatPrecisionRatio) / floatPrecisionRatio
}

func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, redactValue(f.Key, v))
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, roundFloat(float64(v)))
	case float64:
		return slog.Float64(f.Key, roundFloat(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		// slog.Duration renders nanoseconds in JSON
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

func getTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
