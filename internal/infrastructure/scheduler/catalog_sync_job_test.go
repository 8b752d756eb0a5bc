package scheduler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// CatalogSyncJob Tests
// ---------------------------------------------------------------------------

func TestNewCatalogSyncJob(t *testing.T) {
	job := NewCatalogSyncJob("web-eu", true, SyncTriggerManual, 3)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, "web-eu", job.ChannelKey)
	assert.True(t, job.FullSync)
	assert.Equal(t, SyncTriggerManual, job.Trigger)
	assert.Equal(t, CatalogSyncJobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 1, job.Attempt())
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
}

func TestCatalogSyncJob_Start(t *testing.T) {
	job := NewCatalogSyncJob("web-eu", false, SyncTriggerSchedule, 3)
	job.Error = "previous error"

	job.Start()

	assert.Equal(t, CatalogSyncJobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.Empty(t, job.Error)
}

func TestCatalogSyncJob_Complete(t *testing.T) {
	tests := []struct {
		name      string
		runStatus integration.SyncRunStatus
		want      CatalogSyncJobStatus
	}{
		{"success", integration.SyncRunStatusSuccess, CatalogSyncJobStatusSuccess},
		{"partial", integration.SyncRunStatusPartial, CatalogSyncJobStatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewCatalogSyncJob("web-eu", false, SyncTriggerSchedule, 3)
			job.Start()

			job.Complete(tt.runStatus)

			assert.Equal(t, tt.want, job.Status)
			assert.NotNil(t, job.CompletedAt)
			assert.False(t, job.ShouldRetry())
		})
	}
}

func TestCatalogSyncJob_ApplyRun(t *testing.T) {
	job := NewCatalogSyncJob("web-eu", false, SyncTriggerSchedule, 3)
	delta := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	run := integration.NewSyncRun(job.ID, job.ChannelKey, 1, &delta)
	run.Outcome = integration.ExportOutcomeCompleted
	run.RecordCount = 42
	run.SkippedLines = 2
	run.Location = "s3://feeds/web-eu/x.ndjson"

	job.ApplyRun(run)

	require.NotNil(t, job.LastRunID)
	assert.Equal(t, run.ID, *job.LastRunID)
	assert.Equal(t, integration.ExportOutcomeCompleted, job.Outcome)
	assert.Equal(t, &delta, job.DeltaFromDate)
	assert.Equal(t, 42, job.RecordCount)
	assert.Equal(t, 2, job.SkippedLines)
	assert.Equal(t, run.Location, job.Location)

	job.ApplyRun(nil)
	assert.Equal(t, 42, job.RecordCount, "nil run leaves the job untouched")
}

func TestCatalogSyncJob_FailAndRetry(t *testing.T) {
	job := NewCatalogSyncJob("web-eu", false, SyncTriggerSchedule, 2)
	job.Start()

	job.Fail("export timed out")

	assert.Equal(t, CatalogSyncJobStatusFailed, job.Status)
	assert.Equal(t, "export timed out", job.Error)
	assert.True(t, job.ShouldRetry())

	job.ScheduleRetry(time.Minute)
	assert.Equal(t, CatalogSyncJobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, 2, job.Attempt())
	assert.Nil(t, job.CompletedAt)
	require.NotNil(t, job.NextRetryAt)

	job.Start()
	job.Fail("again")
	job.ScheduleRetry(time.Minute)
	assert.Equal(t, 2, job.RetryCount)

	job.Start()
	job.Fail("and again")
	assert.False(t, job.ShouldRetry(), "retries exhausted")
}

func TestCatalogSyncJob_Cancel(t *testing.T) {
	job := NewCatalogSyncJob("web-eu", false, SyncTriggerSchedule, 3)
	job.Start()

	job.Cancel("scheduler stopped")

	assert.Equal(t, CatalogSyncJobStatusCancelled, job.Status)
	assert.Equal(t, "scheduler stopped", job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.False(t, job.ShouldRetry())
}

func TestCatalogSyncJob_ScheduleRetryBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{4, 16 * time.Minute},
		{5, 30 * time.Minute},
		{40, 30 * time.Minute},
	}

	for _, tt := range tests {
		job := NewCatalogSyncJob("web-eu", false, SyncTriggerSchedule, 100)
		job.RetryCount = tt.retryCount

		before := time.Now()
		job.ScheduleRetry(time.Minute)

		require.NotNil(t, job.NextRetryAt)
		delay := job.NextRetryAt.Sub(before)
		assert.InDelta(t, tt.want.Seconds(), delay.Seconds(), 1, "retry %d", tt.retryCount+1)
	}
}

func TestCatalogSyncJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status CatalogSyncJobStatus
		want   bool
	}{
		{CatalogSyncJobStatusPending, false},
		{CatalogSyncJobStatusRunning, false},
		{CatalogSyncJobStatusSuccess, true},
		{CatalogSyncJobStatusPartial, true},
		{CatalogSyncJobStatusFailed, true},
		{CatalogSyncJobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}
