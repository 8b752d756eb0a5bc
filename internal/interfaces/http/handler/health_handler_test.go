package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSchedulerStatus bool

func (s stubSchedulerStatus) IsRunning() bool { return bool(s) }

func serveHealth(t *testing.T, h *HealthHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	h.RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthHandler_Health(t *testing.T) {
	t.Run("healthy with passing checks", func(t *testing.T) {
		h := NewHealthHandler(stubSchedulerStatus(true)).
			AddCheck("database", func(context.Context) error { return nil }).
			AddCheck("redis", func(context.Context) error { return nil })

		w := serveHealth(t, h, "/health")

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "healthy", data["status"])
		assert.Equal(t, true, data["scheduler_running"])
		assert.Equal(t, map[string]any{"database": "ok", "redis": "ok"}, data["checks"])
	})

	t.Run("failing check", func(t *testing.T) {
		h := NewHealthHandler(stubSchedulerStatus(true)).
			AddCheck("redis", func(context.Context) error { return errors.New("dial tcp: connection refused") })

		w := serveHealth(t, h, "/health")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse(t, w)
		assert.False(t, resp.Success)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "unhealthy", data["status"])
		checks := data["checks"].(map[string]any)
		assert.Contains(t, checks["redis"], "connection refused")
	})

	t.Run("stopped scheduler", func(t *testing.T) {
		w := serveHealth(t, NewHealthHandler(stubSchedulerStatus(false)), "/health")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("checks get a deadline", func(t *testing.T) {
		var deadline time.Time
		h := NewHealthHandler(nil).AddCheck("database", func(ctx context.Context) error {
			deadline, _ = ctx.Deadline()
			return nil
		})

		w := serveHealth(t, h, "/health")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, deadline.IsZero())
	})
}

func TestHealthHandler_Ping(t *testing.T) {
	w := serveHealth(t, NewHealthHandler(nil), "/ping")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, "pong", data["message"])

	_, err := time.Parse(time.RFC3339, data["timestamp"].(string))
	require.NoError(t, err)
}
