package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/erp/catalogsync/internal/infrastructure/ecommerce"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ExportMetrics records catalog export activity. It implements
// ecommerce.ExportObserver so the adapter reports retries, token refreshes
// and job polls directly; the scheduler reports finished runs via RecordSyncRun.
//
// A nil *ExportMetrics is valid and records nothing.
type ExportMetrics struct {
	retriesTotal      *Counter
	tokenRefreshTotal *Counter
	jobPollsTotal     *Counter
	syncRunsTotal     *Counter
	syncDuration      *Histogram
	feedRecords       *Histogram
	skippedLinesTotal *Counter
	lastSuccess       *Gauge
}

// SyncRunSample describes one finished sync run.
type SyncRunSample struct {
	ChannelKey   string
	Status       string // SUCCESS, PARTIAL, FAILED, CANCELLED
	Outcome      string // COMPLETED, NO_DATA, TIMED_OUT; empty when the export never ran
	Delta        bool
	Duration     time.Duration
	RecordCount  int64
	SkippedLines int64
	FinishedAt   time.Time
}

var _ ecommerce.ExportObserver = (*ExportMetrics)(nil)

// NewExportMetrics registers all catalog export instruments on meter.
func NewExportMetrics(meter metric.Meter) (*ExportMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ExportMetrics{}
	var err error

	if m.retriesTotal, err = NewCounter(meter,
		"catalog_export_retries_total",
		"Retries scheduled by the export retry executor",
		"{retries}",
	); err != nil {
		return nil, err
	}
	if m.tokenRefreshTotal, err = NewCounter(meter,
		"catalog_token_refresh_total",
		"Access token refreshes triggered by authorization failures",
		"{refreshes}",
	); err != nil {
		return nil, err
	}
	if m.jobPollsTotal, err = NewCounter(meter,
		"catalog_export_job_polls_total",
		"Export job status responses received",
		"{polls}",
	); err != nil {
		return nil, err
	}
	if m.syncRunsTotal, err = NewCounter(meter,
		"catalog_sync_runs_total",
		"Finished catalog sync runs",
		"{runs}",
	); err != nil {
		return nil, err
	}
	if m.syncDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "catalog_sync_duration_seconds",
		Description: "Wall time of a catalog sync run",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.feedRecords, err = NewHistogram(meter, HistogramOpts{
		Name:        "catalog_feed_records",
		Description: "Product records decoded from one feed",
		Unit:        "{records}",
		Boundaries:  FeedSizeBuckets,
	}); err != nil {
		return nil, err
	}
	if m.skippedLinesTotal, err = NewCounter(meter,
		"catalog_feed_skipped_lines_total",
		"Feed lines skipped because they were not valid JSON objects",
		"{lines}",
	); err != nil {
		return nil, err
	}
	if m.lastSuccess, err = NewGauge(meter,
		"catalog_sync_last_success_timestamp",
		"Unix time of the last successful sync per channel",
		"s",
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RetryScheduled implements ecommerce.ExportObserver.
func (m *ExportMetrics) RetryScheduled(ctx context.Context, policy string, statusCode int) {
	if m == nil {
		return
	}
	m.retriesTotal.Inc(ctx,
		AttrRetryPolicy.String(policy),
		AttrStatusCode.String(statusLabel(statusCode)),
	)
}

// TokenRefreshed implements ecommerce.ExportObserver.
func (m *ExportMetrics) TokenRefreshed(ctx context.Context, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.tokenRefreshTotal.Inc(ctx, AttrResult.String(result))
}

// JobPolled implements ecommerce.ExportObserver.
func (m *ExportMetrics) JobPolled(ctx context.Context, channelKey, statusID string) {
	if m == nil {
		return
	}
	m.jobPollsTotal.Inc(ctx,
		AttrChannelKey.String(channelKey),
		AttrJobStatus.String(statusID),
	)
}

// RecordSyncRun records a finished sync run.
func (m *ExportMetrics) RecordSyncRun(ctx context.Context, s SyncRunSample) {
	if m == nil {
		return
	}

	mode := "full"
	if s.Delta {
		mode = "delta"
	}
	attrs := []attribute.KeyValue{
		AttrChannelKey.String(s.ChannelKey),
		AttrJobStatus.String(s.Status),
		AttrExportOutcome.String(s.Outcome),
		AttrSyncMode.String(mode),
	}

	m.syncRunsTotal.Inc(ctx, attrs...)
	m.syncDuration.RecordDuration(ctx, s.Duration, attrs...)

	channel := AttrChannelKey.String(s.ChannelKey)
	if s.Outcome != "" {
		m.feedRecords.Record(ctx, float64(s.RecordCount), channel)
	}
	if s.SkippedLines > 0 {
		m.skippedLinesTotal.Add(ctx, s.SkippedLines, channel)
	}
	if (s.Status == "SUCCESS" || s.Status == "PARTIAL") && !s.FinishedAt.IsZero() {
		m.lastSuccess.Record(ctx, s.FinishedAt.Unix(), channel)
	}
}

// statusLabel keeps transport errors (status 0) distinguishable from HTTP codes.
func statusLabel(code int) string {
	if code == 0 {
		return "transport_error"
	}
	return strconv.Itoa(code)
}
