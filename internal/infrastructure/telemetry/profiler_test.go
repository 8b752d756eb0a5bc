package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler(t *testing.T) {
	t.Run("disabled profiler is a no-op", func(t *testing.T) {
		p, err := NewProfiler(ProfilerConfig{Enabled: false}, zap.NewNop())
		require.NoError(t, err)
		assert.False(t, p.IsEnabled())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
	})

	t.Run("requires server address", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "catalogsync"}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server address")
	})

	t.Run("requires application name", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "application name")
	})
}

func TestSanitizeLabels(t *testing.T) {
	long := strings.Repeat("x", MaxLabelValueLength+10)
	pairs := sanitizeLabels(map[string]string{
		"Sync-Mode": "delta",
		"channel":   long,
		"job_id":    "d7f1",
		"trigger":   "",
		"":          "orphan",
	})

	// keys are sorted before sanitizing, so "Sync-Mode" sorts ahead of "channel"
	require.Len(t, pairs, 4)
	assert.Equal(t, []string{"sync_mode", "delta"}, pairs[:2])
	assert.Equal(t, "channel", pairs[2])
	assert.Len(t, pairs[3], MaxLabelValueLength)

	assert.Nil(t, sanitizeLabels(nil))
}

func TestWithProfilingLabels(t *testing.T) {
	var got map[string]string
	WithProfilingLabels(context.Background(), SyncLabels("web", true, "cron"), func(ctx context.Context) {
		got = map[string]string{}
		pprof.ForLabels(ctx, func(key, value string) bool {
			got[key] = value
			return true
		})
	})

	assert.Equal(t, "web", got[ProfilingLabelChannel])
	assert.Equal(t, "delta", got[ProfilingLabelSyncMode])
	assert.Equal(t, "cron", got[ProfilingLabelTrigger])
	assert.Equal(t, "catalog_sync", got[ProfilingLabelOperation])

	called := false
	WithProfilingLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}
