package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	core := lp.ZapCore(zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	logger := zap.New(core).With(zap.String("channel_key", "web"))

	logger.Debug("poll")
	logger.Info("job created")
	logger.Warn("skipping malformed feed line")
	logger.Error("export failed")

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "skipping malformed feed line", entries[0].Message)
	assert.Equal(t, "web", entries[0].ContextMap()["channel_key"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
