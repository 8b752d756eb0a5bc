package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 500
)

// SyncRunModel is the GORM model for catalog sync runs
type SyncRunModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID         uuid.UUID `gorm:"type:uuid;index;not null"`
	ChannelKey    string    `gorm:"type:varchar(100);index:idx_sync_runs_channel_started,priority:1;not null"`
	Attempt       int       `gorm:"not null;default:1"`
	Status        string    `gorm:"type:varchar(20);not null"`
	Outcome       string    `gorm:"type:varchar(20)"`
	DeltaFromDate *time.Time
	JobKey        string    `gorm:"type:varchar(255)"`
	Polls         int       `gorm:"not null;default:0"`
	RecordCount   int       `gorm:"not null;default:0"`
	SkippedLines  int       `gorm:"not null;default:0"`
	Location      string    `gorm:"type:text"`
	SizeBytes     int64     `gorm:"not null;default:0"`
	Error         string    `gorm:"type:text"`
	StartedAt     time.Time `gorm:"index:idx_sync_runs_channel_started,priority:2;not null"`
	FinishedAt    time.Time
}

// TableName returns the table name for the model
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToEntity converts the model to a domain entity
func (m *SyncRunModel) ToEntity() *integration.SyncRun {
	return &integration.SyncRun{
		ID:            m.ID,
		JobID:         m.JobID,
		ChannelKey:    m.ChannelKey,
		Attempt:       m.Attempt,
		Status:        integration.SyncRunStatus(m.Status),
		Outcome:       integration.ExportOutcome(m.Outcome),
		DeltaFromDate: m.DeltaFromDate,
		JobKey:        m.JobKey,
		Polls:         m.Polls,
		RecordCount:   m.RecordCount,
		SkippedLines:  m.SkippedLines,
		Location:      m.Location,
		SizeBytes:     m.SizeBytes,
		Error:         m.Error,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}

// SyncRunModelFromEntity creates a model from a domain entity
func SyncRunModelFromEntity(e *integration.SyncRun) *SyncRunModel {
	return &SyncRunModel{
		ID:            e.ID,
		JobID:         e.JobID,
		ChannelKey:    e.ChannelKey,
		Attempt:       e.Attempt,
		Status:        string(e.Status),
		Outcome:       string(e.Outcome),
		DeltaFromDate: e.DeltaFromDate,
		JobKey:        e.JobKey,
		Polls:         e.Polls,
		RecordCount:   e.RecordCount,
		SkippedLines:  e.SkippedLines,
		Location:      e.Location,
		SizeBytes:     e.SizeBytes,
		Error:         e.Error,
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
	}
}

// GormSyncRunRepository implements integration.SyncRunRepository
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new sync run repository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Save persists a finished run
func (r *GormSyncRunRepository) Save(ctx context.Context, run *integration.SyncRun) error {
	if run == nil {
		return errors.New("persistence: sync run is nil")
	}
	if err := r.db.WithContext(ctx).Create(SyncRunModelFromEntity(run)).Error; err != nil {
		return fmt.Errorf("persistence: save sync run %s: %w", run.ID, err)
	}
	return nil
}

// FindByID retrieves a run by its ID
func (r *GormSyncRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncRun, error) {
	var model SyncRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncRunNotFound
		}
		return nil, fmt.Errorf("persistence: find sync run %s: %w", id, err)
	}
	return model.ToEntity(), nil
}

// ListRecent returns the newest runs across all channels
func (r *GormSyncRunRepository) ListRecent(ctx context.Context, limit int) ([]integration.SyncRun, error) {
	return r.list(r.db.WithContext(ctx), limit)
}

// ListByChannel returns the newest runs of one channel
func (r *GormSyncRunRepository) ListByChannel(ctx context.Context, channelKey string, limit int) ([]integration.SyncRun, error) {
	return r.list(r.db.WithContext(ctx).Where("channel_key = ?", channelKey), limit)
}

func (r *GormSyncRunRepository) list(query *gorm.DB, limit int) ([]integration.SyncRun, error) {
	var models []SyncRunModel
	if err := query.Order("started_at DESC").Limit(normalizeRunLimit(limit)).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("persistence: list sync runs: %w", err)
	}

	runs := make([]integration.SyncRun, len(models))
	for i := range models {
		runs[i] = *models[i].ToEntity()
	}
	return runs, nil
}

func normalizeRunLimit(limit int) int {
	if limit <= 0 {
		return defaultRunListLimit
	}
	if limit > maxRunListLimit {
		return maxRunListLimit
	}
	return limit
}

// Ensure GormSyncRunRepository implements the interface
var _ integration.SyncRunRepository = (*GormSyncRunRepository)(nil)
