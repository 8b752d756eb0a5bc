package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
)

// TestSyncRunRepository_Integration exercises the run history against the migrated schema
func TestSyncRunRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormSyncRunRepository(testDB.DB)
	ctx := context.Background()

	t.Run("Save and FindByID", func(t *testing.T) {
		delta := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
		run := integration.NewSyncRun(uuid.New(), "web-eu", 1, &delta)
		run.Outcome = integration.ExportOutcomeCompleted
		run.JobKey = "job-1"
		run.Polls = 4
		run.RecordCount = 250
		run.SizeBytes = 4096
		run.Location = "s3://feeds/web-eu/run.ndjson"
		run.Finish(integration.SyncRunStatusSuccess, nil)

		require.NoError(t, repo.Save(ctx, run))

		found, err := repo.FindByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.JobID, found.JobID)
		assert.Equal(t, "web-eu", found.ChannelKey)
		assert.Equal(t, integration.SyncRunStatusSuccess, found.Status)
		assert.Equal(t, integration.ExportOutcomeCompleted, found.Outcome)
		require.NotNil(t, found.DeltaFromDate)
		assert.True(t, delta.Equal(*found.DeltaFromDate))
		assert.Equal(t, 250, found.RecordCount)
		assert.Equal(t, int64(4096), found.SizeBytes)
		assert.WithinDuration(t, run.StartedAt, found.StartedAt, time.Microsecond)
	})

	t.Run("FindByID missing run", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, integration.ErrSyncRunNotFound)
	})

	t.Run("status check constraint", func(t *testing.T) {
		run := integration.NewSyncRun(uuid.New(), "web-eu", 1, nil)
		run.Status = "BOGUS"
		assert.Error(t, repo.Save(ctx, run))
	})

	t.Run("ListByChannel newest first", func(t *testing.T) {
		testDB.CleanTables()
		base := time.Now().UTC().Add(-time.Hour)
		var ids []uuid.UUID
		for i := range 3 {
			run := integration.NewSyncRun(uuid.New(), "web-us", 1, nil)
			run.StartedAt = base.Add(time.Duration(i) * time.Minute)
			run.Finish(integration.SyncRunStatusSuccess, nil)
			require.NoError(t, repo.Save(ctx, run))
			ids = append(ids, run.ID)
		}
		other := integration.NewSyncRun(uuid.New(), "web-eu", 1, nil)
		other.Finish(integration.SyncRunStatusFailed, integration.ErrExportTimedOut)
		require.NoError(t, repo.Save(ctx, other))

		runs, err := repo.ListByChannel(ctx, "web-us", 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, ids[2], runs[0].ID)
		assert.Equal(t, ids[1], runs[1].ID)

		recent, err := repo.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, recent, 4)
		assert.Equal(t, other.ID, recent[0].ID)
	})
}
