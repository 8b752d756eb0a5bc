package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work that runs in the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ServiceUnavailable sends a 503 response
func (h *BaseHandler) ServiceUnavailable(c *gin.Context, message string) {
	h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, message)
}

// HandleError maps scheduler and repository errors to HTTP responses.
// Unknown errors are logged and reported as internal errors.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, scheduler.ErrJobAlreadyQueued):
		h.ErrorWithCode(c, dto.ErrCodeConflict, "A sync job for this channel is already pending or running")
	case errors.Is(err, scheduler.ErrJobQueueFull):
		h.ErrorWithCode(c, dto.ErrCodeQueueFull, "Sync job queue is full, try again later")
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.ErrorWithCode(c, dto.ErrCodeUnavailable, "Sync scheduler is not running")
	case errors.Is(err, scheduler.ErrUnknownChannel):
		h.NotFound(c, "Channel is not configured")
	case errors.Is(err, scheduler.ErrJobNotFound):
		h.NotFound(c, "Sync job not found")
	case errors.Is(err, integration.ErrSyncRunNotFound):
		h.NotFound(c, "Sync run not found")
	case errors.Is(err, integration.ErrExportInvalidChannelKey):
		h.BadRequest(c, "Invalid channel key")
	default:
		logger.GetGinLogger(c).Error("Request failed", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
	}
}
