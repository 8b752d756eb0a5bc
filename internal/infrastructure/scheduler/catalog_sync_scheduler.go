package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// CatalogSyncSchedulerConfig contains configuration for the catalog sync scheduler
type CatalogSyncSchedulerConfig struct {
	// WorkerCount is the number of concurrent sync workers
	WorkerCount int

	// QueueSize is the capacity of the pending job queue
	QueueSize int

	// JobTimeout bounds one attempt, including all export polls
	JobTimeout time.Duration

	// MaxRetries is the number of retries after a failed attempt
	MaxRetries int

	// RetryBaseDelay is the first retry delay; later retries double it
	RetryBaseDelay time.Duration

	// HistorySize is the number of finished jobs kept for inspection
	HistorySize int
}

// DefaultCatalogSyncSchedulerConfig returns the default configuration
func DefaultCatalogSyncSchedulerConfig() CatalogSyncSchedulerConfig {
	return CatalogSyncSchedulerConfig{
		WorkerCount:    2,
		QueueSize:      100,
		JobTimeout:     time.Hour,
		MaxRetries:     3,
		RetryBaseDelay: time.Minute,
		HistorySize:    100,
	}
}

// Validate validates the configuration
func (c CatalogSyncSchedulerConfig) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker count must be at least 1", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay must be positive", ErrInvalidConfig)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history size must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// CatalogSyncScheduler runs catalog sync jobs on a fixed worker pool.
// At most one job per channel is pending or running at a time.
type CatalogSyncScheduler struct {
	config   CatalogSyncSchedulerConfig
	executor CatalogSyncExecutor
	logger   *zap.Logger

	queue  chan *CatalogSyncJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool

	// jobsMu guards every job reachable from jobs, active and history
	jobsMu  sync.RWMutex
	jobs    map[uuid.UUID]*CatalogSyncJob
	active  map[string]uuid.UUID
	history []*CatalogSyncJob
}

// NewCatalogSyncScheduler creates a new catalog sync scheduler
func NewCatalogSyncScheduler(
	config CatalogSyncSchedulerConfig,
	executor CatalogSyncExecutor,
	logger *zap.Logger,
) (*CatalogSyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CatalogSyncScheduler{
		config:   config,
		executor: executor,
		logger:   logger.Named("catalog-sync-scheduler"),
		queue:    make(chan *CatalogSyncJob, config.QueueSize),
		jobs:     make(map[uuid.UUID]*CatalogSyncJob),
		active:   make(map[string]uuid.UUID),
		history:  make([]*CatalogSyncJob, 0, config.HistorySize),
	}, nil
}

// Start starts the worker pool
func (s *CatalogSyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("Catalog sync scheduler started",
		zap.Int("workers", s.config.WorkerCount),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs, waits for the workers and cancels queued jobs
func (s *CatalogSyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Catalog sync scheduler stop timed out")
		return ctx.Err()
	}

	s.drainQueue()
	s.logger.Info("Catalog sync scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler accepts jobs
func (s *CatalogSyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// ScheduleSync queues a sync of channelKey and returns a snapshot of the new job
func (s *CatalogSyncScheduler) ScheduleSync(channelKey string, fullSync bool, trigger SyncTrigger) (CatalogSyncJob, error) {
	job := NewCatalogSyncJob(channelKey, fullSync, trigger, s.config.MaxRetries)
	if err := s.SubmitJob(job); err != nil {
		return CatalogSyncJob{}, err
	}
	return s.snapshot(job), nil
}

// SubmitJob queues a new job
func (s *CatalogSyncScheduler) SubmitJob(job *CatalogSyncJob) error {
	if job == nil || job.ChannelKey == "" {
		return integration.ErrExportInvalidChannelKey
	}
	if !s.IsRunning() {
		return ErrSchedulerNotRunning
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, busy := s.active[job.ChannelKey]; busy {
		return ErrJobAlreadyQueued
	}

	select {
	case s.queue <- job:
	default:
		return ErrJobQueueFull
	}

	s.jobs[job.ID] = job
	s.active[job.ChannelKey] = job.ID

	s.logger.Debug("Catalog sync job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("channel_key", job.ChannelKey),
		zap.Bool("full_sync", job.FullSync),
		zap.String("trigger", string(job.Trigger)),
	)
	return nil
}

// GetJob returns a snapshot of a pending, running or recently finished job
func (s *CatalogSyncScheduler) GetJob(id uuid.UUID) (CatalogSyncJob, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return CatalogSyncJob{}, ErrJobNotFound
	}
	return *job, nil
}

// ActiveJobs returns snapshots of pending and running jobs ordered by creation
func (s *CatalogSyncScheduler) ActiveJobs() []CatalogSyncJob {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	result := make([]CatalogSyncJob, 0, len(s.active))
	for _, id := range s.active {
		result = append(result, *s.jobs[id])
	}
	slices.SortFunc(result, func(a, b CatalogSyncJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result
}

// JobHistory returns snapshots of finished jobs, newest first
func (s *CatalogSyncScheduler) JobHistory(limit int) []CatalogSyncJob {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]CatalogSyncJob, limit)
	for i := range limit {
		result[i] = *s.history[i]
	}
	return result
}

func (s *CatalogSyncScheduler) snapshot(job *CatalogSyncJob) CatalogSyncJob {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	return *job
}

// worker processes jobs from the queue
func (s *CatalogSyncScheduler) worker(id int) {
	defer s.wg.Done()

	log := s.logger.With(zap.Int("worker_id", id))
	log.Debug("Worker started")

	for {
		select {
		case <-s.ctx.Done():
			log.Debug("Worker stopping")
			return
		case job := <-s.queue:
			s.processJob(s.ctx, job, log)
		}
	}
}

// processJob runs one attempt and decides between finishing and retrying
func (s *CatalogSyncScheduler) processJob(ctx context.Context, job *CatalogSyncJob, log *zap.Logger) {
	s.jobsMu.Lock()
	if ctx.Err() != nil {
		job.Cancel("scheduler stopped")
		s.finishLocked(job)
		s.jobsMu.Unlock()
		return
	}
	job.Start()
	attempt := job.Attempt()
	s.jobsMu.Unlock()

	log.Info("Processing catalog sync job",
		zap.String("job_id", job.ID.String()),
		zap.String("channel_key", job.ChannelKey),
		zap.Int("attempt", attempt),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	run, err := s.executor.Execute(jobCtx, job)
	cancel()

	s.jobsMu.Lock()
	job.ApplyRun(run)
	switch {
	case err == nil:
		status := integration.SyncRunStatusSuccess
		if run != nil {
			status = run.Status
		}
		job.Complete(status)
	case errors.Is(err, integration.ErrChannelLocked):
		job.Cancel(err.Error())
	case ctx.Err() != nil:
		job.Cancel("scheduler stopped")
	default:
		job.Fail(err.Error())
	}

	retry := job.ShouldRetry() && isRetryable(err)
	if retry {
		job.ScheduleRetry(s.config.RetryBaseDelay)
	} else {
		s.finishLocked(job)
	}
	status := job.Status
	nextRetryAt := job.NextRetryAt
	s.jobsMu.Unlock()

	if retry {
		log.Warn("Catalog sync job failed, retry scheduled",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", attempt),
			zap.Time("next_retry_at", *nextRetryAt),
			zap.Error(err),
		)
		s.scheduleRetry(ctx, job, time.Until(*nextRetryAt))
		return
	}

	if err != nil {
		log.Warn("Catalog sync job finished",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(status)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return
	}
	log.Info("Catalog sync job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(status)),
		zap.Int("attempt", attempt),
	)
}

// scheduleRetry re-queues job after delay unless the scheduler stops first
func (s *CatalogSyncScheduler) scheduleRetry(ctx context.Context, job *CatalogSyncJob, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			s.jobsMu.Lock()
			job.Cancel("scheduler stopped")
			s.finishLocked(job)
			s.jobsMu.Unlock()
		case <-timer.C:
			select {
			case s.queue <- job:
			default:
				s.jobsMu.Lock()
				job.Fail(ErrJobQueueFull.Error())
				s.finishLocked(job)
				s.jobsMu.Unlock()
				s.logger.Warn("Dropped catalog sync retry, queue full",
					zap.String("job_id", job.ID.String()),
					zap.String("channel_key", job.ChannelKey),
				)
			}
		}
	}()
}

// drainQueue cancels jobs left in the queue after the workers stopped
func (s *CatalogSyncScheduler) drainQueue() {
	for {
		select {
		case job := <-s.queue:
			s.jobsMu.Lock()
			job.Cancel("scheduler stopped")
			s.finishLocked(job)
			s.jobsMu.Unlock()
		default:
			return
		}
	}
}

// finishLocked moves a terminal job from the active set into history.
// Callers must hold jobsMu.
func (s *CatalogSyncScheduler) finishLocked(job *CatalogSyncJob) {
	if s.active[job.ChannelKey] == job.ID {
		delete(s.active, job.ChannelKey)
	}

	s.history = append([]*CatalogSyncJob{job}, s.history...)
	if len(s.history) > s.config.HistorySize {
		for _, evicted := range s.history[s.config.HistorySize:] {
			delete(s.jobs, evicted.ID)
		}
		s.history = s.history[:s.config.HistorySize]
	}
}
