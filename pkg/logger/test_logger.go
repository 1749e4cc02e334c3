package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a logger that discards everything
func NewTestLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// NewTestLoggerWithT sends debug and above to t.Log
func NewTestLoggerWithT(t testing.TB) *Logger {
	return &Logger{zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel))}
}

// NewObservedLogger records entries at level and above for assertions.
func NewObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{zap.New(core)}, logs
}
