package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/erp/catalogsync/internal/infrastructure/ecommerce"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	// DefaultLockTTL bounds how long a crashed worker can keep a channel locked
	DefaultLockTTL = 2 * time.Hour

	// bookkeepingTimeout bounds lock release, run persistence and event publishing
	// after the job context may already be cancelled
	bookkeepingTimeout = 15 * time.Second
)

// CatalogSyncExecutor runs one attempt of a catalog sync job
type CatalogSyncExecutor interface {
	// Execute retrieves, decodes and republishes the channel's catalog.
	// The returned run is nil only when the attempt never started
	// (channel locked or sync state unavailable).
	Execute(ctx context.Context, job *CatalogSyncJob) (*integration.SyncRun, error)
}

// CatalogSyncExecutorImpl implements CatalogSyncExecutor
type CatalogSyncExecutorImpl struct {
	exporter  integration.CatalogExporter
	publisher integration.FeedPublisher
	state     integration.SyncStateStore
	runs      integration.SyncRunRepository
	events    shared.EventPublisher
	metrics   *telemetry.ExportMetrics
	logger    *zap.Logger
	lockTTL   time.Duration
}

// CatalogSyncExecutorOption configures the executor
type CatalogSyncExecutorOption func(*CatalogSyncExecutorImpl)

// WithRunRepository persists every finished run
func WithRunRepository(runs integration.SyncRunRepository) CatalogSyncExecutorOption {
	return func(e *CatalogSyncExecutorImpl) {
		e.runs = runs
	}
}

// WithEventPublisher publishes CatalogSynced and CatalogSyncFailed events
func WithEventPublisher(events shared.EventPublisher) CatalogSyncExecutorOption {
	return func(e *CatalogSyncExecutorImpl) {
		e.events = events
	}
}

// WithSyncMetrics records finished runs
func WithSyncMetrics(metrics *telemetry.ExportMetrics) CatalogSyncExecutorOption {
	return func(e *CatalogSyncExecutorImpl) {
		e.metrics = metrics
	}
}

// WithLockTTL sets the channel lock TTL
func WithLockTTL(ttl time.Duration) CatalogSyncExecutorOption {
	return func(e *CatalogSyncExecutorImpl) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// NewCatalogSyncExecutor creates a new catalog sync executor
func NewCatalogSyncExecutor(
	exporter integration.CatalogExporter,
	publisher integration.FeedPublisher,
	state integration.SyncStateStore,
	logger *zap.Logger,
	opts ...CatalogSyncExecutorOption,
) *CatalogSyncExecutorImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &CatalogSyncExecutorImpl{
		exporter:  exporter,
		publisher: publisher,
		state:     state,
		logger:    logger,
		lockTTL:   DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements CatalogSyncExecutor
func (e *CatalogSyncExecutorImpl) Execute(ctx context.Context, job *CatalogSyncJob) (*integration.SyncRun, error) {
	ctx, log := logger.WithJob(ctx, e.logger, job.ID.String(), job.ChannelKey)
	owner := job.ID.String()

	acquired, err := e.state.AcquireLock(ctx, job.ChannelKey, owner, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %v", ErrSyncStateUnavailable, err)
	}
	if !acquired {
		log.Info("Channel is being synced by another worker, skipping")
		return nil, integration.ErrChannelLocked
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
		defer cancel()
		if err := e.state.ReleaseLock(releaseCtx, job.ChannelKey, owner); err != nil {
			log.Warn("Failed to release channel lock", zap.Error(err))
		}
	}()

	var deltaFrom *time.Time
	if !job.FullSync {
		last, ok, err := e.state.LastSync(ctx, job.ChannelKey)
		if err != nil {
			return nil, fmt.Errorf("%w: read last sync: %v", ErrSyncStateUnavailable, err)
		}
		if ok {
			deltaFrom = &last
		}
	}

	run := integration.NewSyncRun(job.ID, job.ChannelKey, job.Attempt(), deltaFrom)

	ctx, span := telemetry.StartSpan(ctx, "catalog.sync",
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrChannelKey, job.ChannelKey),
		telemetry.WithAttribute(telemetry.SpanAttrAttempt, run.Attempt),
		telemetry.WithAttribute(telemetry.SpanAttrDelta, run.IsDelta()),
	)
	defer span.End()

	log.Info("Starting catalog sync",
		zap.String("run_id", run.ID.String()),
		zap.Int("attempt", run.Attempt),
		zap.Bool("delta", run.IsDelta()),
		zap.String("trigger", string(job.Trigger)),
	)

	var runErr error
	labels := telemetry.SyncLabels(job.ChannelKey, run.IsDelta(), string(job.Trigger))
	telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
		runErr = e.run(ctx, run, log)
	})

	run.Finish(runStatus(run, runErr), runErr)

	telemetry.SetAttributes(span,
		telemetry.SpanAttrOutcome, string(run.Outcome),
		telemetry.SpanAttrRecordCount, run.RecordCount,
		telemetry.SpanAttrSkippedLines, run.SkippedLines,
	)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		log.Warn("Catalog sync failed",
			zap.String("run_id", run.ID.String()),
			zap.String("status", string(run.Status)),
			zap.Error(runErr),
		)
	} else {
		telemetry.SetOK(span)
		log.Info("Catalog sync finished",
			zap.String("run_id", run.ID.String()),
			zap.String("status", string(run.Status)),
			zap.String("outcome", string(run.Outcome)),
			zap.Int("records", run.RecordCount),
			zap.Int("skipped_lines", run.SkippedLines),
			zap.Duration("duration", run.Duration()),
		)
	}

	e.record(ctx, run, log)
	return run, runErr
}

// run performs export, decode and publish; it fills run as it goes
func (e *CatalogSyncExecutorImpl) run(ctx context.Context, run *integration.SyncRun, log *zap.Logger) error {
	result, err := e.exporter.FetchExport(ctx, integration.NewExportJobRequest(run.ChannelKey, run.DeltaFromDate))
	if err != nil {
		return err
	}
	defer result.Close()

	run.Outcome = result.Outcome
	run.Polls = result.Polls
	if result.Handle != nil {
		run.JobKey = result.Handle.JobKey
	}

	switch result.Outcome {
	case integration.ExportOutcomeNoData:
		log.Info("Platform started no export job, nothing to sync")
		return nil
	case integration.ExportOutcomeTimedOut:
		return integration.ErrExportTimedOut
	}

	decoder := ecommerce.NewFeedDecoder(log)
	pub, err := e.publisher.Publish(ctx, run.ChannelKey, run.ID.String(), decoder.Records(ctx, result.Stream()))
	run.SkippedLines = decoder.Stats().SkippedLines
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFeedPublishFailed, err)
	}
	run.RecordCount = pub.RecordCount
	run.Location = pub.Location
	run.SizeBytes = pub.SizeBytes

	// the next delta starts where this export started
	if err := e.state.SetLastSync(ctx, run.ChannelKey, run.StartedAt); err != nil {
		log.Warn("Failed to store last sync time", zap.Error(err))
	}
	return nil
}

// runStatus maps the attempt result to the run status
func runStatus(run *integration.SyncRun, err error) integration.SyncRunStatus {
	switch {
	case err == nil && run.SkippedLines > 0:
		return integration.SyncRunStatusPartial
	case err == nil:
		return integration.SyncRunStatusSuccess
	case errors.Is(err, context.Canceled):
		return integration.SyncRunStatusCancelled
	default:
		return integration.SyncRunStatusFailed
	}
}

// record persists the run, publishes its event and reports metrics
func (e *CatalogSyncExecutorImpl) record(ctx context.Context, run *integration.SyncRun, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if e.runs != nil {
		if err := e.runs.Save(ctx, run); err != nil {
			log.Error("Failed to save sync run", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}

	if e.events != nil {
		if event := syncEvent(run); event != nil {
			if err := e.events.Publish(ctx, event); err != nil {
				log.Warn("Failed to publish sync event", zap.String("event_type", event.EventType()), zap.Error(err))
			}
		}
	}

	e.metrics.RecordSyncRun(ctx, telemetry.SyncRunSample{
		ChannelKey:   run.ChannelKey,
		Status:       string(run.Status),
		Outcome:      string(run.Outcome),
		Delta:        run.IsDelta(),
		Duration:     run.Duration(),
		RecordCount:  int64(run.RecordCount),
		SkippedLines: int64(run.SkippedLines),
		FinishedAt:   run.FinishedAt,
	})
}

// syncEvent returns the domain event for a finished run; cancelled runs publish nothing
func syncEvent(run *integration.SyncRun) shared.DomainEvent {
	switch run.Status {
	case integration.SyncRunStatusSuccess, integration.SyncRunStatusPartial:
		event := integration.NewCatalogSyncedEvent(run.JobID.String(), run.ChannelKey, run.Outcome)
		event.Delta = run.IsDelta()
		event.RecordCount = run.RecordCount
		event.SkippedLines = run.SkippedLines
		event.Location = run.Location
		event.Duration = run.Duration()
		return event
	case integration.SyncRunStatusFailed:
		return integration.NewCatalogSyncFailedEvent(run.JobID.String(), run.ChannelKey, run.Error, run.Attempt)
	default:
		return nil
	}
}

// isRetryable reports whether a failed attempt may succeed when run again.
// HTTP statuses decide first so a token endpoint answering 503 is retried.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, integration.ErrChannelLocked),
		errors.Is(err, integration.ErrExportInvalidChannelKey),
		errors.Is(err, context.Canceled):
		return false
	}

	var httpErr *ecommerce.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout
	}

	return !errors.Is(err, integration.ErrPlatformAuthFailed) &&
		!errors.Is(err, integration.ErrPlatformNotConfigured)
}
