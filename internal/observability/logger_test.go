package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/duckmesh/wrappers/internal/config"
)

func testConfig(json bool, level slog.Level) config.Config {
	return config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "fdwctl"},
		Observability: config.ObservabilityConfig{LogLevel: level, LogJSON: json},
	}
}

func TestNewLoggerTagsServiceAndProfile(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(testConfig(true, slog.LevelInfo), &buf)
	logger.Debug("hidden")
	logger.Info("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %s", out)
	}
	for _, want := range []string{`"msg":"visible"`, `"service":"fdwctl"`, `"profile":"test"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %s", out, want)
		}
	}
}

func TestNewZapLoggerFollowsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(testConfig(true, slog.LevelWarn), &buf)
	logger.Info("hidden")
	logger.Warn("guest warning")
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, "guest warning") || !strings.Contains(out, `"service":"fdwctl"`) {
		t.Fatalf("zap output = %q", out)
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("TraceIDFromContext(empty) = %q", got)
	}

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, NewLogger(testConfig(false, slog.LevelDebug), &buf))
	logger.Info("scan")
	if !strings.Contains(buf.String(), "trace_id=abc123") {
		t.Fatalf("log output = %q, want trace id", buf.String())
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if len(a) != 32 || a == b {
		t.Fatalf("NewTraceID() = %q, %q", a, b)
	}
}
