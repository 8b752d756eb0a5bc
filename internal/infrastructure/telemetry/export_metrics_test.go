package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupExportMetrics(t *testing.T) (*telemetry.ExportMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewExportMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, m *metricdata.Metrics, key attribute.Key) map[string]int64 {
	t.Helper()

	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum data for counter")

	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestNewExportMetrics_NilMeter(t *testing.T) {
	m, err := telemetry.NewExportMetrics(nil)

	require.Error(t, err)
	assert.Nil(t, m)
	assert.Equal(t, "NewExportMetrics: meter cannot be nil", err.Error())
}

func TestExportMetrics_NilReceiver(t *testing.T) {
	var m *telemetry.ExportMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RetryScheduled(ctx, "primary", 401)
		m.TokenRefreshed(ctx, nil)
		m.JobPolled(ctx, "web", "queued")
		m.RecordSyncRun(ctx, telemetry.SyncRunSample{ChannelKey: "web"})
	})
}

func TestExportMetrics_RetryScheduled(t *testing.T) {
	m, reader := setupExportMetrics(t)
	ctx := context.Background()

	m.RetryScheduled(ctx, "primary", 401)
	m.RetryScheduled(ctx, "primary", 429)
	m.RetryScheduled(ctx, "basic", 0)

	rm := collectMetrics(t, reader)
	byPolicy := sumByAttr(t, findMetricByName(rm, "catalog_export_retries_total"), telemetry.AttrRetryPolicy)
	assert.Equal(t, int64(2), byPolicy["primary"])
	assert.Equal(t, int64(1), byPolicy["basic"])

	byStatus := sumByAttr(t, findMetricByName(rm, "catalog_export_retries_total"), telemetry.AttrStatusCode)
	assert.Equal(t, int64(1), byStatus["transport_error"])
	assert.Equal(t, int64(1), byStatus["429"])
}

func TestExportMetrics_TokenRefreshed(t *testing.T) {
	m, reader := setupExportMetrics(t)
	ctx := context.Background()

	m.TokenRefreshed(ctx, nil)
	m.TokenRefreshed(ctx, nil)
	m.TokenRefreshed(ctx, errors.New("invalid_client"))

	rm := collectMetrics(t, reader)
	byResult := sumByAttr(t, findMetricByName(rm, "catalog_token_refresh_total"), telemetry.AttrResult)
	assert.Equal(t, int64(2), byResult["success"])
	assert.Equal(t, int64(1), byResult["failure"])
}

func TestExportMetrics_JobPolled(t *testing.T) {
	m, reader := setupExportMetrics(t)
	ctx := context.Background()

	m.JobPolled(ctx, "web", "queued")
	m.JobPolled(ctx, "web", "processing")
	m.JobPolled(ctx, "web", "completed")

	rm := collectMetrics(t, reader)
	byStatus := sumByAttr(t, findMetricByName(rm, "catalog_export_job_polls_total"), telemetry.AttrJobStatus)
	assert.Len(t, byStatus, 3)
	assert.Equal(t, int64(1), byStatus["completed"])
}

func TestExportMetrics_RecordSyncRun(t *testing.T) {
	m, reader := setupExportMetrics(t)
	ctx := context.Background()
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.RecordSyncRun(ctx, telemetry.SyncRunSample{
		ChannelKey:   "web",
		Status:       "PARTIAL",
		Outcome:      "COMPLETED",
		Delta:        true,
		Duration:     90 * time.Second,
		RecordCount:  1200,
		SkippedLines: 3,
		FinishedAt:   finished,
	})
	m.RecordSyncRun(ctx, telemetry.SyncRunSample{
		ChannelKey: "web",
		Status:     "FAILED",
		Outcome:    "TIMED_OUT",
		Duration:   time.Hour,
		FinishedAt: finished.Add(time.Hour),
	})

	rm := collectMetrics(t, reader)

	byStatus := sumByAttr(t, findMetricByName(rm, "catalog_sync_runs_total"), telemetry.AttrJobStatus)
	assert.Equal(t, int64(1), byStatus["PARTIAL"])
	assert.Equal(t, int64(1), byStatus["FAILED"])

	byMode := sumByAttr(t, findMetricByName(rm, "catalog_sync_runs_total"), telemetry.AttrSyncMode)
	assert.Equal(t, int64(1), byMode["delta"])
	assert.Equal(t, int64(1), byMode["full"])

	skipped := sumByAttr(t, findMetricByName(rm, "catalog_feed_skipped_lines_total"), telemetry.AttrChannelKey)
	assert.Equal(t, int64(3), skipped["web"])

	durations := findMetricByName(rm, "catalog_sync_duration_seconds")
	require.NotNil(t, durations)
	hist, ok := durations.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)

	lastSuccess := findMetricByName(rm, "catalog_sync_last_success_timestamp")
	require.NotNil(t, lastSuccess)
	gauge, ok := lastSuccess.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, finished.Unix(), gauge.DataPoints[0].Value)
}
