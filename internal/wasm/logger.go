package wasm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/duckmesh/wrappers/internal/wasm/abiv2"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
)

// Logger returns the logger that receives guest log lines.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		loggerMu.Lock()
		if logger == nil {
			logger = zap.NewNop()
		}
		loggerMu.Unlock()
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the guest logger. A nil logger restores the no-op logger.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func logGuest(fields []zap.Field, level uint32, msg string) {
	l := Logger()
	switch level {
	case abiv2.LogDebug:
		l.Debug(msg, fields...)
	case abiv2.LogInfo:
		l.Info(msg, fields...)
	case abiv2.LogWarn:
		l.Warn(msg, fields...)
	default:
		l.Error(msg, fields...)
	}
}
