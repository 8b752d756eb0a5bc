package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// decodeResponse unmarshals a standard API response body
func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(middleware.RequestIDKey, "req-test")
	return c, w
}

// ----- Response Helper Tests -----

func TestBaseHandler_Responses(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name       string
		call       func(c *gin.Context)
		wantStatus int
		wantCode   string
	}{
		{"success", func(c *gin.Context) { h.Success(c, gin.H{"ok": true}) }, http.StatusOK, ""},
		{"accepted", func(c *gin.Context) { h.Accepted(c, gin.H{"id": "1"}) }, http.StatusAccepted, ""},
		{"bad request", func(c *gin.Context) { h.BadRequest(c, "bad") }, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"not found", func(c *gin.Context) { h.NotFound(c, "missing") }, http.StatusNotFound, dto.ErrCodeNotFound},
		{"internal", func(c *gin.Context) { h.InternalError(c, "boom") }, http.StatusInternalServerError, dto.ErrCodeInternal},
		{"unavailable", func(c *gin.Context) { h.ServiceUnavailable(c, "down") }, http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"with code", func(c *gin.Context) { h.ErrorWithCode(c, dto.ErrCodeQueueFull, "full") }, http.StatusTooManyRequests, dto.ErrCodeQueueFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(t)
			tt.call(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			if tt.wantCode == "" {
				assert.True(t, resp.Success)
				assert.Nil(t, resp.Error)
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, "req-test", resp.Error.RequestID)
		})
	}
}

// ----- Error Mapping Tests -----

func TestBaseHandler_HandleError(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already queued", scheduler.ErrJobAlreadyQueued, http.StatusConflict, dto.ErrCodeConflict},
		{"queue full", scheduler.ErrJobQueueFull, http.StatusTooManyRequests, dto.ErrCodeQueueFull},
		{"not running", scheduler.ErrSchedulerNotRunning, http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"unknown channel", fmt.Errorf("%w: web-xx", scheduler.ErrUnknownChannel), http.StatusNotFound, dto.ErrCodeNotFound},
		{"job not found", scheduler.ErrJobNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"run not found", integration.ErrSyncRunNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"invalid channel", integration.ErrExportInvalidChannelKey, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"unknown error", errors.New("database is on fire"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(t)
			h.HandleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "fire")
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		c, w := newTestContext(t)
		h.HandleError(c, nil)
		assert.Empty(t, w.Body.String())
	})
}
