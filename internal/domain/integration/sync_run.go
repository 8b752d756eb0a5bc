package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sync run errors
var (
	ErrSyncRunNotFound = errors.New("integration: sync run not found")
	ErrChannelLocked   = errors.New("integration: channel sync already in progress")
)

// SyncRunStatus is the terminal status of one sync attempt
type SyncRunStatus string

const (
	SyncRunStatusSuccess   SyncRunStatus = "SUCCESS"
	SyncRunStatusPartial   SyncRunStatus = "PARTIAL"
	SyncRunStatusFailed    SyncRunStatus = "FAILED"
	SyncRunStatusCancelled SyncRunStatus = "CANCELLED"
)

// IsValid returns true if the status is known
func (s SyncRunStatus) IsValid() bool {
	switch s {
	case SyncRunStatusSuccess, SyncRunStatusPartial, SyncRunStatusFailed, SyncRunStatusCancelled:
		return true
	default:
		return false
	}
}

// SyncRun records one attempt at retrieving and republishing a channel's catalog
type SyncRun struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	ChannelKey    string
	Attempt       int
	Status        SyncRunStatus
	Outcome       ExportOutcome // empty when the export was never reached
	DeltaFromDate *time.Time
	JobKey        string
	Polls         int
	RecordCount   int
	SkippedLines  int
	Location      string
	SizeBytes     int64
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// NewSyncRun starts a run record for one attempt of a job
func NewSyncRun(jobID uuid.UUID, channelKey string, attempt int, deltaFromDate *time.Time) *SyncRun {
	return &SyncRun{
		ID:            uuid.New(),
		JobID:         jobID,
		ChannelKey:    channelKey,
		Attempt:       attempt,
		DeltaFromDate: deltaFromDate,
		StartedAt:     time.Now().UTC(),
	}
}

// IsDelta returns true if the run requested only changes since DeltaFromDate
func (r *SyncRun) IsDelta() bool {
	return r.DeltaFromDate != nil
}

// Duration returns the wall time of the run, zero while unfinished
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finish stamps the run with its terminal status
func (r *SyncRun) Finish(status SyncRunStatus, err error) {
	r.Status = status
	r.FinishedAt = time.Now().UTC()
	if err != nil {
		r.Error = err.Error()
	}
}

// SyncRunRepository stores sync run history
type SyncRunRepository interface {
	Save(ctx context.Context, run *SyncRun) error
	FindByID(ctx context.Context, id uuid.UUID) (*SyncRun, error)
	// ListRecent returns the newest runs across all channels
	ListRecent(ctx context.Context, limit int) ([]SyncRun, error)
	// ListByChannel returns the newest runs of one channel
	ListByChannel(ctx context.Context, channelKey string, limit int) ([]SyncRun, error)
}

// SyncStateStore holds per-channel sync state shared by all instances
type SyncStateStore interface {
	// LastSync returns the start time of the last completed export; ok is false if none
	LastSync(ctx context.Context, channelKey string) (t time.Time, ok bool, err error)
	SetLastSync(ctx context.Context, channelKey string, t time.Time) error
	// AcquireLock takes the channel lock for owner; returns false if another owner holds it
	AcquireLock(ctx context.Context, channelKey, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock drops the channel lock if owner still holds it
	ReleaseLock(ctx context.Context, channelKey, owner string) error
}
