package dto

import (
	"time"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
)

// TriggerSyncRequest is the body of a manual sync request; an empty body means a delta sync
type TriggerSyncRequest struct {
	FullSync bool `json:"full_sync"`
}

// ChannelKeyRequest binds the channel path parameter
type ChannelKeyRequest struct {
	ChannelKey string `uri:"channelKey" binding:"required,max=128"`
}

// IDRequest represents a request with an ID path parameter
type IDRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// ListRunsRequest filters the sync run history
type ListRunsRequest struct {
	Channel string `form:"channel" binding:"omitempty,max=128"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ListJobsRequest limits the job history
type ListJobsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// SyncJobResponse is the API view of a catalog sync job
type SyncJobResponse struct {
	ID            string     `json:"id"`
	ChannelKey    string     `json:"channel_key"`
	FullSync      bool       `json:"full_sync"`
	Trigger       string     `json:"trigger"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	Attempt       int        `json:"attempt"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastRunID     string     `json:"last_run_id,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	DeltaFromDate *time.Time `json:"delta_from_date,omitempty"`
	RecordCount   int        `json:"record_count"`
	SkippedLines  int        `json:"skipped_lines"`
	Location      string     `json:"location,omitempty"`
}

// NewSyncJobResponse converts a job snapshot
func NewSyncJobResponse(job scheduler.CatalogSyncJob) SyncJobResponse {
	resp := SyncJobResponse{
		ID:            job.ID.String(),
		ChannelKey:    job.ChannelKey,
		FullSync:      job.FullSync,
		Trigger:       string(job.Trigger),
		Status:        string(job.Status),
		Error:         job.Error,
		Attempt:       job.Attempt(),
		MaxRetries:    job.MaxRetries,
		NextRetryAt:   job.NextRetryAt,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		Outcome:       string(job.Outcome),
		DeltaFromDate: job.DeltaFromDate,
		RecordCount:   job.RecordCount,
		SkippedLines:  job.SkippedLines,
		Location:      job.Location,
	}
	if job.LastRunID != nil {
		resp.LastRunID = job.LastRunID.String()
	}
	return resp
}

// NewSyncJobResponses converts a list of job snapshots
func NewSyncJobResponses(jobs []scheduler.CatalogSyncJob) []SyncJobResponse {
	out := make([]SyncJobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = NewSyncJobResponse(job)
	}
	return out
}

// SyncJobsResponse lists pending/running jobs and recently finished ones
type SyncJobsResponse struct {
	Active  []SyncJobResponse `json:"active"`
	History []SyncJobResponse `json:"history"`
}

// SyncRunResponse is the API view of one persisted sync attempt
type SyncRunResponse struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	ChannelKey    string     `json:"channel_key"`
	Attempt       int        `json:"attempt"`
	Status        string     `json:"status"`
	Outcome       string     `json:"outcome,omitempty"`
	DeltaFromDate *time.Time `json:"delta_from_date,omitempty"`
	JobKey        string     `json:"job_key,omitempty"`
	Polls         int        `json:"polls"`
	RecordCount   int        `json:"record_count"`
	SkippedLines  int        `json:"skipped_lines"`
	Location      string     `json:"location,omitempty"`
	SizeBytes     int64      `json:"size_bytes"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
}

// NewSyncRunResponse converts a sync run
func NewSyncRunResponse(run integration.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID.String(),
		JobID:         run.JobID.String(),
		ChannelKey:    run.ChannelKey,
		Attempt:       run.Attempt,
		Status:        string(run.Status),
		Outcome:       string(run.Outcome),
		DeltaFromDate: run.DeltaFromDate,
		JobKey:        run.JobKey,
		Polls:         run.Polls,
		RecordCount:   run.RecordCount,
		SkippedLines:  run.SkippedLines,
		Location:      run.Location,
		SizeBytes:     run.SizeBytes,
		Error:         run.Error,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		DurationMs:    run.Duration().Milliseconds(),
	}
}

// NewSyncRunResponses converts a list of sync runs
func NewSyncRunResponses(runs []integration.SyncRun) []SyncRunResponse {
	out := make([]SyncRunResponse, len(runs))
	for i, run := range runs {
		out[i] = NewSyncRunResponse(run)
	}
	return out
}

// ChannelsResponse lists the configured channels
type ChannelsResponse struct {
	Channels []string `json:"channels"`
}

// HealthResponse reports service health
type HealthResponse struct {
	Status           string            `json:"status"`
	Uptime           string            `json:"uptime"`
	SchedulerRunning bool              `json:"scheduler_running"`
	Checks           map[string]string `json:"checks,omitempty"`
}
