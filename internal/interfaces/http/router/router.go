// Package router assembles the gin engine and mounts versioned API routes.
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
)

// DefaultMaxBodyBytes bounds request bodies; the API only accepts small JSON payloads
const DefaultMaxBodyBytes int64 = 1 << 20

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		registrars: make([]RouteRegistrar, 0),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// EngineConfig selects the middleware installed by NewEngine
type EngineConfig struct {
	Logger        *zap.Logger
	ServiceName   string
	Tracing       bool
	MeterProvider *telemetry.MeterProvider
	Profiling     bool
	MaxBodyBytes  int64
}

// NewEngine returns a gin engine with the standard middleware chain:
// request ID, logging, recovery, tracing, metrics, profiling and body limit.
func NewEngine(cfg EngineConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.ServiceName,
			Enabled:     cfg.Tracing,
		}),
		middleware.SpanAttributes(),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: cfg.MeterProvider,
			Enabled:       cfg.MeterProvider != nil,
		}),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{
			Enabled:   cfg.Profiling,
			SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
		}),
		middleware.BodyLimit(maxBody),
	)
	return engine
}
