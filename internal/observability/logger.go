// Package observability builds the process loggers and carries a per-command
// trace id through contexts.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/duckmesh/wrappers/internal/config"
)

type traceIDKey struct{}

// NewLogger returns the host logger. Output is JSON when the config asks for
// it and logfmt text otherwise.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	handler := slog.Handler(slog.NewTextHandler(writer, opts))
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With("service", cfg.Service.Name, "profile", string(cfg.Profile))
}

// NewZapLogger builds the logger that plugin guest output goes to. It
// mirrors NewLogger's level, encoding and fields.
func NewZapLogger(cfg config.Config, writer io.Writer) *zap.Logger {
	if writer == nil {
		writer = io.Discard
	}
	encoding := zap.NewProductionEncoderConfig()
	encoding.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoding)
	if cfg.Observability.LogJSON {
		encoder = zapcore.NewJSONEncoder(encoding)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), zapLevel(cfg.Observability.LogLevel))
	return zap.New(core, zap.Fields(
		zap.String("service", cfg.Service.Name),
		zap.String("profile", string(cfg.Profile)),
	))
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level > slog.LevelWarn:
		return zapcore.ErrorLevel
	case level > slog.LevelInfo:
		return zapcore.WarnLevel
	case level > slog.LevelDebug:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}

// LoggerFromContext tags logger with the trace id carried by ctx, if any.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return logger
	}
	return logger.With("trace_id", traceID)
}

// NewTraceID returns 32 lowercase hex digits.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
