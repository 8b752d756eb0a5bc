package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// maxRetryDelay caps the exponential retry backoff
const maxRetryDelay = 30 * time.Minute

// CatalogSyncJobStatus represents the status of a catalog sync job
type CatalogSyncJobStatus string

const (
	CatalogSyncJobStatusPending   CatalogSyncJobStatus = "PENDING"
	CatalogSyncJobStatusRunning   CatalogSyncJobStatus = "RUNNING"
	CatalogSyncJobStatusSuccess   CatalogSyncJobStatus = "SUCCESS"
	CatalogSyncJobStatusPartial   CatalogSyncJobStatus = "PARTIAL"
	CatalogSyncJobStatusFailed    CatalogSyncJobStatus = "FAILED"
	CatalogSyncJobStatusCancelled CatalogSyncJobStatus = "CANCELLED"
)

// IsTerminal returns true once the job will not run again
func (s CatalogSyncJobStatus) IsTerminal() bool {
	switch s {
	case CatalogSyncJobStatusSuccess, CatalogSyncJobStatusPartial,
		CatalogSyncJobStatusFailed, CatalogSyncJobStatusCancelled:
		return true
	default:
		return false
	}
}

// SyncTrigger records what caused a job to be scheduled
type SyncTrigger string

const (
	SyncTriggerSchedule SyncTrigger = "schedule"
	SyncTriggerManual   SyncTrigger = "manual"
)

// CatalogSyncJob represents one requested catalog sync of a channel.
// A job may run several attempts; each attempt produces a SyncRun.
type CatalogSyncJob struct {
	ID          uuid.UUID
	ChannelKey  string
	FullSync    bool
	Trigger     SyncTrigger
	Status      CatalogSyncJobStatus
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	// Result of the latest attempt
	LastRunID     *uuid.UUID
	Outcome       integration.ExportOutcome
	DeltaFromDate *time.Time
	RecordCount   int
	SkippedLines  int
	Location      string
}

// NewCatalogSyncJob creates a new pending catalog sync job
func NewCatalogSyncJob(channelKey string, fullSync bool, trigger SyncTrigger, maxRetries int) *CatalogSyncJob {
	return &CatalogSyncJob{
		ID:         uuid.New(),
		ChannelKey: channelKey,
		FullSync:   fullSync,
		Trigger:    trigger,
		Status:     CatalogSyncJobStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}
}

// Attempt returns the 1-based number of the current attempt
func (j *CatalogSyncJob) Attempt() int {
	return j.RetryCount + 1
}

// Start marks the job as running
func (j *CatalogSyncJob) Start() {
	now := time.Now()
	j.Status = CatalogSyncJobStatusRunning
	j.StartedAt = &now
	j.NextRetryAt = nil
	j.Error = ""
}

// ApplyRun copies the result of an attempt onto the job
func (j *CatalogSyncJob) ApplyRun(run *integration.SyncRun) {
	if run == nil {
		return
	}
	id := run.ID
	j.LastRunID = &id
	j.Outcome = run.Outcome
	j.DeltaFromDate = run.DeltaFromDate
	j.RecordCount = run.RecordCount
	j.SkippedLines = run.SkippedLines
	j.Location = run.Location
}

// Complete marks the job as finished with the status of its successful run
func (j *CatalogSyncJob) Complete(status integration.SyncRunStatus) {
	now := time.Now()
	j.CompletedAt = &now
	if status == integration.SyncRunStatusPartial {
		j.Status = CatalogSyncJobStatusPartial
		return
	}
	j.Status = CatalogSyncJobStatusSuccess
}

// Fail marks the job as failed
func (j *CatalogSyncJob) Fail(err string) {
	now := time.Now()
	j.Status = CatalogSyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Cancel marks the job as cancelled; cancelled jobs are never retried
func (j *CatalogSyncJob) Cancel(reason string) {
	now := time.Now()
	j.Status = CatalogSyncJobStatusCancelled
	j.CompletedAt = &now
	j.NextRetryAt = nil
	j.Error = reason
}

// ShouldRetry returns true if the job failed and has retries left
func (j *CatalogSyncJob) ShouldRetry() bool {
	return j.Status == CatalogSyncJobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry with exponential backoff:
// baseDelay * 2^(retryCount-1), capped at 30 minutes.
func (j *CatalogSyncJob) ScheduleRetry(baseDelay time.Duration) {
	j.RetryCount++
	j.Status = CatalogSyncJobStatusPending
	j.CompletedAt = nil

	delay := maxRetryDelay
	if shift := j.RetryCount - 1; shift < 16 {
		if d := baseDelay * time.Duration(1<<shift); d > 0 && d < maxRetryDelay {
			delay = d
		}
	}
	nextRetry := time.Now().Add(delay)
	j.NextRetryAt = &nextRetry
}
