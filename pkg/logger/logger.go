package logger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"callhub-backend/pkg/env"
)

// Log is the global logger instance. It discards everything until Init runs,
// so packages can log from tests without setting it up.
var Log = zap.NewNop()

// skipped backs the package-level helpers; it reports the helper's caller
var skipped = Log

// Config holds logger configuration
type Config struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
	Service  string // added to every entry when set
}

// Init replaces the global logger. Unknown levels log at info.
func Init(cfg *Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if cfg.Output == "file" && cfg.FilePath != "" {
		zapConfig.OutputPaths = []string{cfg.FilePath}
		zapConfig.ErrorOutputPaths = []string{cfg.FilePath}
	}

	built, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	if cfg.Service != "" {
		built = built.With(zap.String("service", cfg.Service))
	}
	set(built)
	return nil
}

// InitDefault initializes the logger from LOG_* variables
func InitDefault() {
	cfg := &Config{
		Level:    env.GetString("LOG_LEVEL", "info"),
		Format:   env.GetString("LOG_FORMAT", "json"),
		Output:   env.GetString("LOG_OUTPUT", "stdout"),
		FilePath: env.GetString("LOG_FILE_PATH", "/logs/call-service.log"),
		Service:  env.GetString("SERVICE_NAME", ""),
	}

	if err := Init(cfg); err != nil {
		production, _ := zap.NewProduction()
		set(production)
	}
}

func set(l *zap.Logger) {
	Log = l
	skipped = l.WithOptions(zap.AddCallerSkip(1))
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	fieldsKey    contextKey = "log_fields"
)

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithFields attaches fields to every entry logged through FromContext(ctx)
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing, _ := ctx.Value(fieldsKey).([]zap.Field)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey, merged)
}

// FromContext creates a logger with the request ID and attached fields of ctx
func FromContext(ctx context.Context) *zap.Logger {
	l := Log
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		l = l.With(zap.String("request_id", requestID))
	}
	if fields, ok := ctx.Value(fieldsKey).([]zap.Field); ok {
		l = l.With(fields...)
	}
	return l
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	skipped.Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	skipped.Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	skipped.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	skipped.Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	skipped.Fatal(msg, fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Log.Sync()
}

// Call-scoped fields shared by the call, link and signaling services

// CallID tags a log entry with a one-to-one call id
func CallID(id uuid.UUID) zap.Field {
	return zap.String("call_id", id.String())
}

// GroupCallID tags a log entry with a group call id
func GroupCallID(id uuid.UUID) zap.Field {
	return zap.String("group_call_id", id.String())
}

// GuestID tags a log entry with a guest participant id
func GuestID(id uuid.UUID) zap.Field {
	return zap.String("guest_id", id.String())
}

// ConversationID tags a log entry with a conversation id
func ConversationID(id uuid.UUID) zap.Field {
	return zap.String("conversation_id", id.String())
}
