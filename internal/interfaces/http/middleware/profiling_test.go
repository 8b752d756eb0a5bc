package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
)

func TestDefaultProfilingConfig(t *testing.T) {
	cfg := DefaultProfilingConfig()

	assert.True(t, cfg.Enabled)
	assert.Contains(t, cfg.SkipPaths, "/health")
	assert.Contains(t, cfg.SkipPaths, "/ping")
}

func TestProfilingMiddleware_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	handlerCalled := false
	r.Use(ProfilingWithConfig(ProfilingConfig{Enabled: false}))
	r.GET("/test", func(c *gin.Context) {
		handlerCalled = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, handlerCalled)
}

func TestProfilingMiddleware_SkipPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		path string
	}{
		{"health exact", "/health"},
		{"ping exact", "/ping"},
		{"prefix", "/debug/pprof"},
		{"labelled path", "/api/v1/sync/jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProfilingConfig()
			cfg.SkipPathPrefixes = []string{"/debug"}

			r := gin.New()
			handlerCalled := false
			r.Use(ProfilingWithConfig(cfg))
			r.GET(tt.path, func(c *gin.Context) {
				handlerCalled = true
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.True(t, handlerCalled, "handler should be called for path: %s", tt.path)
		})
	}
}

func TestProfilingMiddleware_ContextPreserved(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.Use(RequestID())
	r.Use(Profiling())
	r.POST("/sync/channels/:channelKey/jobs", func(c *gin.Context) {
		assert.Equal(t, "req-1", GetRequestID(c))
		assert.NotNil(t, c.Request.Context())
		c.Status(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/sync/channels/web-eu/jobs", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestExtractProfilingLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		pattern  string
		path     string
		expected map[string]string
	}{
		{
			name:    "channel route",
			pattern: "/sync/channels/:channelKey/jobs",
			path:    "/sync/channels/web-eu/jobs",
			expected: map[string]string{
				telemetry.ProfilingLabelMethod:  http.MethodGet,
				telemetry.ProfilingLabelRoute:   "/sync/channels/:channelKey/jobs",
				telemetry.ProfilingLabelChannel: "web-eu",
			},
		},
		{
			name:    "plain route",
			pattern: "/sync/jobs",
			path:    "/sync/jobs",
			expected: map[string]string{
				telemetry.ProfilingLabelMethod: http.MethodGet,
				telemetry.ProfilingLabelRoute:  "/sync/jobs",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var labels map[string]string
			r := gin.New()
			r.GET(tt.pattern, func(c *gin.Context) {
				labels = extractProfilingLabels(c)
			})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.expected, labels)
		})
	}
}
