package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
)

const defaultJobHistoryLimit = 20

// SyncTrigger schedules manual syncs of configured channels
type SyncTrigger interface {
	TriggerSync(channelKey string, fullSync bool) (scheduler.CatalogSyncJob, error)
	Channels() []string
}

// SyncJobReader exposes scheduler job snapshots
type SyncJobReader interface {
	GetJob(id uuid.UUID) (scheduler.CatalogSyncJob, error)
	ActiveJobs() []scheduler.CatalogSyncJob
	JobHistory(limit int) []scheduler.CatalogSyncJob
}

// SyncHandler serves the catalog sync API
type SyncHandler struct {
	BaseHandler
	trigger SyncTrigger
	jobs    SyncJobReader
	runs    integration.SyncRunRepository
}

// NewSyncHandler creates a SyncHandler. runs may be nil when no run history is kept.
func NewSyncHandler(trigger SyncTrigger, jobs SyncJobReader, runs integration.SyncRunRepository) *SyncHandler {
	return &SyncHandler{
		trigger: trigger,
		jobs:    jobs,
		runs:    runs,
	}
}

// RegisterRoutes mounts the sync endpoints under rg
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/sync")
	g.GET("/channels", h.ListChannels)
	g.POST("/channels/:channelKey/jobs", h.TriggerSync)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:id", h.GetJob)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
}

// ListChannels returns the configured channel keys
func (h *SyncHandler) ListChannels(c *gin.Context) {
	h.Success(c, dto.ChannelsResponse{Channels: h.trigger.Channels()})
}

// TriggerSync queues a manual sync for one channel.
// An empty body requests a delta sync.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	var uri dto.ChannelKeyRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var req dto.TriggerSyncRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	job, err := h.trigger.TriggerSync(uri.ChannelKey, req.FullSync)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Manual catalog sync queued",
		zap.String("job_id", job.ID.String()),
		zap.String("channel_key", job.ChannelKey),
		zap.Bool("full_sync", job.FullSync),
	)
	h.Accepted(c, dto.NewSyncJobResponse(job))
}

// ListJobs returns active jobs and the most recent finished ones
func (h *SyncHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultJobHistoryLimit
	}

	h.Success(c, dto.SyncJobsResponse{
		Active:  dto.NewSyncJobResponses(h.jobs.ActiveJobs()),
		History: dto.NewSyncJobResponses(h.jobs.JobHistory(limit)),
	})
}

// GetJob returns one job snapshot
func (h *SyncHandler) GetJob(c *gin.Context) {
	id, ok := h.bindID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSyncJobResponse(job))
}

// ListRuns returns persisted sync runs, newest first, optionally for one channel
func (h *SyncHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		h.ServiceUnavailable(c, "Sync run history is not enabled")
		return
	}

	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var (
		runs []integration.SyncRun
		err  error
	)
	if req.Channel != "" {
		runs, err = h.runs.ListByChannel(c.Request.Context(), req.Channel, req.Limit)
	} else {
		runs, err = h.runs.ListRecent(c.Request.Context(), req.Limit)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSyncRunResponses(runs))
}

// GetRun returns one persisted sync run
func (h *SyncHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		h.ServiceUnavailable(c, "Sync run history is not enabled")
		return
	}

	id, ok := h.bindID(c)
	if !ok {
		return
	}

	run, err := h.runs.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSyncRunResponse(*run))
}

func (h *SyncHandler) bindID(c *gin.Context) (uuid.UUID, bool) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		h.BadRequest(c, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}
