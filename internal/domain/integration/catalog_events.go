package integration

import (
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
)

// Event types published by catalog synchronization
const (
	EventTypeCatalogSynced     = "CatalogSynced"
	EventTypeCatalogSyncFailed = "CatalogSyncFailed"

	// AggregateTypeChannel is the aggregate type for catalog channel events
	AggregateTypeChannel = "CatalogChannel"
)

// CatalogSyncedEvent is published after a channel's feed was retrieved and republished
type CatalogSyncedEvent struct {
	shared.BaseDomainEvent
	JobID        string        `json:"job_id"`
	ChannelKey   string        `json:"channel_key"`
	Outcome      ExportOutcome `json:"outcome"`
	Delta        bool          `json:"delta"`
	RecordCount  int           `json:"record_count"`
	SkippedLines int           `json:"skipped_lines"`
	Location     string        `json:"location,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// NewCatalogSyncedEvent creates a CatalogSyncedEvent
func NewCatalogSyncedEvent(jobID, channelKey string, outcome ExportOutcome) *CatalogSyncedEvent {
	return &CatalogSyncedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCatalogSynced, AggregateTypeChannel, channelKey),
		JobID:           jobID,
		ChannelKey:      channelKey,
		Outcome:         outcome,
	}
}

// CatalogSyncFailedEvent is published when a sync job ends in failure
type CatalogSyncFailedEvent struct {
	shared.BaseDomainEvent
	JobID      string `json:"job_id"`
	ChannelKey string `json:"channel_key"`
	Reason     string `json:"reason"`
	Attempt    int    `json:"attempt"`
}

// NewCatalogSyncFailedEvent creates a CatalogSyncFailedEvent
func NewCatalogSyncFailedEvent(jobID, channelKey, reason string, attempt int) *CatalogSyncFailedEvent {
	return &CatalogSyncFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCatalogSyncFailed, AggregateTypeChannel, channelKey),
		JobID:           jobID,
		ChannelKey:      channelKey,
		Reason:          reason,
		Attempt:         attempt,
	}
}
