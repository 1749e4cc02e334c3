package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "color logs enabled",
			opts: Options{Color: true, TimeFormat: "kitchen"},
		},
		{
			name: "color logs disabled",
			opts: Options{TimeFormat: "rfc3339"},
		},
		{
			name: "logs disabled",
			opts: Options{Color: true, Disable: true, TimeFormat: "rfc3339nano"},
		},
		{
			name: "debug level",
			opts: Options{Level: "debug", TimeFormat: "iso8601"},
		},
		{
			name: "unknown time format uses default",
			opts: Options{TimeFormat: "unknown"},
		},
		{
			name:    "unknown level",
			opts:    Options{Level: "verbose"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Info("test info")
			logger.Debug("test debug")
			logger.Warn("test warn")
			logger.Error("test error")
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{"", zapcore.InfoLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{" error ", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	logger, err := New(Options{TimeFormat: "kitchen"})
	require.NoError(t, err)

	logger.Info("test info message", zap.String("key", "value"))
	logger.Debug("test debug message", zap.Int("count", 42))
	logger.Warn("test warning message", zap.Bool("flag", true))
	logger.Error("test error message", zap.Error(nil))

	childLogger := logger.With(zap.String("component", "test"))
	childLogger.Info("child logger message")

	named := logger.Named("churn")
	named.Info("named logger message")
}

func TestWriter(t *testing.T) {
	log, logs := NewObservedLogger(zapcore.InfoLevel)

	n, err := log.Writer(zapcore.ErrorLevel).Write([]byte("panic recovered\n"))
	require.NoError(t, err)
	assert.Equal(t, len("panic recovered\n"), n)

	_, err = log.Writer(zapcore.DebugLevel).Write([]byte("below level"))
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "panic recovered", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestNewObservedLogger_Fields(t *testing.T) {
	log, logs := NewObservedLogger(zapcore.DebugLevel)

	log.Named("churn").With(zap.Uint64("generation", 3)).Debug("reconnecting feed")

	entries := logs.FilterMessage("reconnecting feed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "churn", entries[0].LoggerName)
	assert.Equal(t, uint64(3), entries[0].ContextMap()["generation"])
}
