// Package log wraps zap with context-aware helpers so call sites stay terse.
package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

var global = New(os.Getenv("LOG_LEVEL"))

// Logger is a thin wrapper around zap.Logger.
type Logger struct {
	zl *zap.Logger
}

// New creates a Logger at the given level. Empty or unknown levels fall back to info.
func New(level string) *Logger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	zl, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		zl = zap.NewNop()
	}

	return &Logger{zl: zl}
}

// SetGlobal replaces the package-level logger.
func SetGlobal(l *Logger) {
	if l != nil {
		global = l
	}
}

func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields ...Field) {
	if ce := l.zl.Check(lvl, msg); ce != nil {
		ce.Write(append(contextFields(ctx), fields...)...)
	}
}

func contextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if runID, ok := ctx.Value(runIDKey{}).(string); ok && runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}

	if clientID, ok := ctx.Value(clientIDKey{}).(string); ok && clientID != "" {
		fields = append(fields, zap.String("client_id", clientID))
	}

	return fields
}

type (
	runIDKey    struct{}
	clientIDKey struct{}
)

// WithRunID attaches a run identifier to the context for log correlation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// WithClientID attaches a tenant identifier to the context for log correlation.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	global.log(ctx, zapcore.DebugLevel, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	global.log(ctx, zapcore.InfoLevel, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	global.log(ctx, zapcore.WarnLevel, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	global.log(ctx, zapcore.ErrorLevel, msg, fields...)
}

// DebugEnabled reports whether debug logging is active, to guard expensive payload dumps.
func DebugEnabled(ctx context.Context) bool {
	return global.zl.Core().Enabled(zapcore.DebugLevel)
}

func String(key, value string) Field       { return zap.String(key, value) }
func Int(key string, value int) Field      { return zap.Int(key, value) }
func Int64(key string, value int64) Field  { return zap.Int64(key, value) }
func Bool(key string, value bool) Field    { return zap.Bool(key, value) }
func Float64(key string, v float64) Field  { return zap.Float64(key, v) }
func Any(key string, value any) Field      { return zap.Any(key, value) }
func Cause(err error) Field                { return zap.Error(err) }
