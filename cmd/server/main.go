package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/cache"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/ecommerce"
	"github.com/erp/catalogsync/internal/infrastructure/event"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/migration"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/infrastructure/storage"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/erp/catalogsync/internal/interfaces/http/handler"
	"github.com/erp/catalogsync/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const meterName = "github.com/erp/catalogsync"

func main() {
	var configFile string
	pflag.StringVarP(&configFile, "config", "c", "", "Path to config.toml")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	serviceName := cfg.Telemetry.ServiceName

	// Telemetry: traces, metrics, logs, profiles
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if loggerProvider.IsEnabled() {
		level, _ := logger.ParseLevel(cfg.Log.Level)
		teeLog, err := logger.New(logCfg, loggerProvider.ZapCore(level))
		if err != nil {
			log.Fatal("Failed to attach OTLP log core", zap.Error(err))
		}
		log = teeLog
	}
	defer func() { _ = log.Sync() }()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServer,
		ApplicationName: serviceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	log.Info("Starting catalog sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.Strings("channels", cfg.Sync.Channels),
		zap.Bool("periodic_sync", cfg.Sync.Enabled),
	)

	// Sync state: delta dates and channel locks
	state, closeState, err := cache.NewSyncStateStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create sync state store", zap.Error(err))
	}

	// Feed storage
	var publisher integration.FeedPublisher = storage.NewDiscardFeedPublisher()
	if cfg.Storage.Enabled {
		s3Publisher, err := storage.NewS3FeedPublisher(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create S3 feed publisher", zap.Error(err))
		}
		if err := s3Publisher.EnsureBucket(ctx); err != nil {
			log.Fatal("Feed bucket is not usable", zap.Error(err))
		}
		publisher = s3Publisher
	} else {
		log.Warn("Feed storage disabled, decoded records are counted and discarded")
	}

	// Run history
	var (
		db   *persistence.Database
		runs integration.SyncRunRepository
	)
	if cfg.Database.Enabled {
		db, err = persistence.NewDatabase(&cfg.Database, log)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		if cfg.Database.AutoMigrate {
			if err := migrateUp(db, cfg.Database.MigrationsPath, log); err != nil {
				log.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		runs = persistence.NewGormSyncRunRepository(db.DB)
		log.Info("Database connected successfully")
	} else {
		log.Warn("Database disabled, sync run history is not recorded")
	}

	// Events
	eventBus := event.NewInMemoryEventBus(log)
	if redisStore, ok := state.(*cache.RedisSyncStateStore); ok && cfg.Redis.EventStream != "" {
		forwarder := event.NewRedisStreamForwarder(redisStore.Client(), cfg.Redis.EventStream, nil, log)
		eventBus.Subscribe(forwarder, forwarder.EventTypes()...)
		log.Info("Forwarding catalog events to Redis stream", zap.String("stream", cfg.Redis.EventStream))
	}
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Metrics for the export pipeline; nil when metrics are off
	var exportMetrics *telemetry.ExportMetrics
	if meterProvider.IsEnabled() {
		exportMetrics, err = telemetry.NewExportMetrics(meterProvider.Meter(meterName))
		if err != nil {
			log.Fatal("Failed to register export metrics", zap.Error(err))
		}
	}

	// Export pipeline
	exporter, err := ecommerce.NewExportAdapter(newExportConfig(cfg),
		ecommerce.WithExportLogger(log),
		ecommerce.WithExportObserver(exportMetrics),
	)
	if err != nil {
		log.Fatal("Failed to create export adapter", zap.Error(err))
	}

	executorOpts := []scheduler.CatalogSyncExecutorOption{
		scheduler.WithEventPublisher(eventBus),
		scheduler.WithSyncMetrics(exportMetrics),
		scheduler.WithLockTTL(cfg.Sync.LockTTL),
	}
	if runs != nil {
		executorOpts = append(executorOpts, scheduler.WithRunRepository(runs))
	}
	executor := scheduler.NewCatalogSyncExecutor(exporter, publisher, state, log, executorOpts...)

	syncScheduler, err := scheduler.NewCatalogSyncScheduler(scheduler.CatalogSyncSchedulerConfig{
		WorkerCount:    cfg.Sync.WorkerCount,
		QueueSize:      cfg.Sync.QueueSize,
		JobTimeout:     cfg.Sync.JobTimeout,
		MaxRetries:     cfg.Sync.MaxRetries,
		RetryBaseDelay: cfg.Sync.RetryBaseDelay,
		HistorySize:    scheduler.DefaultCatalogSyncSchedulerConfig().HistorySize,
	}, executor, log)
	if err != nil {
		log.Fatal("Failed to create sync scheduler", zap.Error(err))
	}
	if err := syncScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}

	syncTrigger, err := scheduler.NewCatalogSyncTrigger(scheduler.CatalogSyncTriggerConfig{
		Channels:      cfg.Sync.Channels,
		Interval:      cfg.Sync.Interval,
		FullSyncEvery: cfg.Sync.FullSyncEvery,
	}, syncScheduler, log)
	if err != nil {
		log.Fatal("Failed to create sync trigger", zap.Error(err))
	}
	if cfg.Sync.Enabled {
		if err := syncTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engineCfg := router.EngineConfig{
		Logger:      log,
		ServiceName: serviceName,
		Tracing:     tracerProvider.IsEnabled(),
		Profiling:   profiler.IsEnabled(),
	}
	if meterProvider.IsEnabled() {
		engineCfg.MeterProvider = meterProvider
	}
	engine := router.NewEngine(engineCfg)

	healthHandler := handler.NewHealthHandler(syncScheduler)
	if db != nil {
		healthHandler.AddCheck("database", func(context.Context) error { return db.Ping() })
	}
	if pinger, ok := state.(interface{ Ping(context.Context) error }); ok {
		healthHandler.AddCheck("redis", pinger.Ping)
	}
	healthHandler.RegisterRoutes(engine)

	r := router.NewRouter(engine)
	r.Register(handler.NewSyncHandler(syncTrigger, syncScheduler, runs))
	r.Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := syncTrigger.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping sync trigger", zap.Error(err))
	}
	if err := syncScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping sync scheduler", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}
	if err := closeState(); err != nil {
		log.Error("Error closing sync state store", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	shutdownTelemetry(shutdownCtx, log, tracerProvider, meterProvider, loggerProvider)

	log.Info("Server exited gracefully")
}

// newExportConfig maps the platform and export sections onto the adapter config.
// Zero values keep the adapter defaults.
func newExportConfig(cfg *config.Config) *ecommerce.ExportConfig {
	p := cfg.Platform
	ec := ecommerce.NewExportConfig(p.BaseURL, p.ClientID, p.ClientSecret, p.Scope)

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&ec.TokenPath, p.TokenPath)
	setString(&ec.ExportPath, p.ExportPath)
	setString(&ec.JobStatusPath, p.JobStatusPath)
	setString(&ec.ApplicationName, p.ApplicationName)
	setString(&ec.CompletedStatus, cfg.Export.CompletedStatus)
	if p.TimeoutSeconds > 0 {
		ec.TimeoutSeconds = p.TimeoutSeconds
	}

	e := cfg.Export
	if e.InitialPollDelay > 0 {
		ec.InitialPollDelay = e.InitialPollDelay
	}
	if e.MaxPollDelay > 0 {
		ec.MaxPollDelay = e.MaxPollDelay
	}
	if e.MaxPolls > 0 {
		ec.MaxPolls = e.MaxPolls
	}
	if len(e.FailedStatuses) > 0 {
		ec.FailedStatuses = e.FailedStatuses
	}
	if e.MaxAuthAttempts > 0 {
		ec.MaxAuthAttempts = e.MaxAuthAttempts
	}
	if e.BasicRetries > 0 {
		ec.BasicRetries = e.BasicRetries
	}
	return ec
}

func migrateUp(db *persistence.Database, path string, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, path, log)
	if err != nil {
		return err
	}
	// m.Close would also close the shared pool
	return m.Up()
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownTelemetry(ctx context.Context, log *zap.Logger, providers ...shutdowner) {
	for _, p := range providers {
		if err := p.Shutdown(ctx); err != nil {
			log.Error("Error shutting down telemetry provider", zap.Error(err))
		}
	}
}
