package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// SchedulerStatus reports whether the job scheduler is accepting work
type SchedulerStatus interface {
	IsRunning() bool
}

// HealthHandler serves liveness and readiness endpoints
type HealthHandler struct {
	BaseHandler
	scheduler SchedulerStatus
	checks    map[string]HealthCheck
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(scheduler SchedulerStatus) *HealthHandler {
	return &HealthHandler{
		scheduler: scheduler,
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
}

// AddCheck registers a named dependency check, such as "database" or "redis"
func (h *HealthHandler) AddCheck(name string, check HealthCheck) *HealthHandler {
	h.checks[name] = check
	return h
}

// RegisterRoutes mounts /health and /ping on the engine root
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ping", h.Ping)
}

// Health runs every check and returns 503 if any fails or the scheduler is stopped
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	healthy := true
	resp := dto.HealthResponse{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}

	if h.scheduler != nil {
		resp.SchedulerRunning = h.scheduler.IsRunning()
		healthy = resp.SchedulerRunning
	}

	if len(h.checks) > 0 {
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				healthy = false
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	if !healthy {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, dto.Response{Success: false, Data: resp})
		return
	}
	h.Success(c, resp)
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping is a liveness probe with no dependency checks
func (h *HealthHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
