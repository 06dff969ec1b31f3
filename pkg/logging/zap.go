package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how the underlying zap logger is built
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{Level: "info", Format: "json"}
}

// ZapLogger implements Logger interface using zap
type ZapLogger struct {
	logger    *zap.Logger
	component string
	context   map[string]interface{}
}

// NewZapLogger creates a new ZapLogger with production defaults
func NewZapLogger(component string) *ZapLogger {
	return NewZapLoggerWithOptions(component, DefaultOptions())
}

// NewZapLoggerWithOptions creates a ZapLogger with the given level and encoding
func NewZapLoggerWithOptions(component string, opts Options) *ZapLogger {
	return &ZapLogger{
		logger:    buildZap(opts),
		component: component,
		context:   make(map[string]interface{}),
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &ZapLogger{
		logger:    zap.NewNop(),
		component: "nop",
		context:   make(map[string]interface{}),
	}
}

func buildZap(opts Options) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(opts.Level))
	if strings.EqualFold(opts.Format, "console") {
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if configuration fails
		logger = zap.NewNop()
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Info logs an info message
func (z *ZapLogger) Info(msg string, fields map[string]interface{}) {
	zapFields := z.buildZapFields(fields)
	z.logger.Info(fmt.Sprintf("[%s] %s", z.component, msg), zapFields...)
}

// Error logs an error message
func (z *ZapLogger) Error(msg string, err error, fields map[string]interface{}) {
	zapFields := z.buildZapFields(fields)
	if err != nil {
		zapFields = append(zapFields, zap.Error(err))
	}
	z.logger.Error(fmt.Sprintf("[%s] %s", z.component, msg), zapFields...)
}

// Warn logs a warning message
func (z *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	zapFields := z.buildZapFields(fields)
	z.logger.Warn(fmt.Sprintf("[%s] %s", z.component, msg), zapFields...)
}

// Debug logs a debug message
func (z *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	zapFields := z.buildZapFields(fields)
	z.logger.Debug(fmt.Sprintf("[%s] %s", z.component, msg), zapFields...)
}

// WithPipeline creates a new logger with pipeline context
func (z *ZapLogger) WithPipeline(pipeline string) Logger {
	newContext := copyFields(z.context)
	newContext["pipeline"] = pipeline

	return &ZapLogger{
		logger:    z.logger,
		component: z.component,
		context:   newContext,
	}
}

// WithContext creates a new logger with additional context
func (z *ZapLogger) WithContext(ctx map[string]interface{}) Logger {
	newContext := copyFields(z.context)
	for k, v := range ctx {
		newContext[k] = v
	}

	return &ZapLogger{
		logger:    z.logger,
		component: z.component,
		context:   newContext,
	}
}

// Sync flushes buffered log entries
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}

// buildZapFields converts map fields to zap fields
func (z *ZapLogger) buildZapFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(z.context)+len(fields))

	// Add context fields first
	for k, v := range z.context {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	return zapFields
}

func copyFields(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
