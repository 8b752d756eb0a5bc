package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned when a job is not found
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ---------------------------------------------------------------------------
	// Catalog Sync Errors
	// ---------------------------------------------------------------------------

	// ErrJobAlreadyQueued is returned when the channel already has a pending or running job
	ErrJobAlreadyQueued = errors.New("catalog sync already queued for this channel")

	// ErrUnknownChannel is returned when a manual sync names a channel that is not configured
	ErrUnknownChannel = errors.New("channel is not configured for catalog sync")

	// ErrSyncStateUnavailable is returned when the shared sync state cannot be read or locked
	ErrSyncStateUnavailable = errors.New("catalog sync state unavailable")

	// ErrFeedPublishFailed is returned when the decoded feed could not be republished
	ErrFeedPublishFailed = errors.New("catalog feed publish failed")
)
