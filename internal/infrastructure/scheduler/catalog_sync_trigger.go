package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncJobScheduler accepts catalog sync jobs
type SyncJobScheduler interface {
	ScheduleSync(channelKey string, fullSync bool, trigger SyncTrigger) (CatalogSyncJob, error)
}

// ---------------------------------------------------------------------------
// CatalogSyncTriggerConfig
// ---------------------------------------------------------------------------

// CatalogSyncTriggerConfig holds configuration for the periodic sync trigger
type CatalogSyncTriggerConfig struct {
	// Channels are the channel keys synced every cycle
	Channels []string

	// Interval is the time between cycles
	Interval time.Duration

	// FullSyncEvery makes every Nth cycle a full export; zero means delta only
	FullSyncEvery int
}

// Validate validates the configuration
func (c CatalogSyncTriggerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: sync interval must be positive", ErrInvalidConfig)
	}
	if c.FullSyncEvery < 0 {
		return fmt.Errorf("%w: full sync cycle cannot be negative", ErrInvalidConfig)
	}
	if slices.Contains(c.Channels, "") {
		return fmt.Errorf("%w: channel keys cannot be empty", ErrInvalidConfig)
	}
	return nil
}

// ---------------------------------------------------------------------------
// CatalogSyncTrigger
// ---------------------------------------------------------------------------

// CatalogSyncTrigger submits a sync job per configured channel on every cycle
type CatalogSyncTrigger struct {
	config    CatalogSyncTriggerConfig
	scheduler SyncJobScheduler
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// cycle and lastScheduled are guarded by lastScheduledMu
	lastScheduledMu sync.Mutex
	cycle           int
	lastScheduled   map[string]time.Time
}

// NewCatalogSyncTrigger creates a new periodic catalog sync trigger
func NewCatalogSyncTrigger(
	config CatalogSyncTriggerConfig,
	scheduler SyncJobScheduler,
	logger *zap.Logger,
) (*CatalogSyncTrigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogSyncTrigger{
		config:        config,
		scheduler:     scheduler,
		logger:        logger.Named("catalog-sync-trigger"),
		now:           time.Now,
		lastScheduled: make(map[string]time.Time),
	}, nil
}

// Start starts the trigger loop; the first cycle runs immediately
func (c *CatalogSyncTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Catalog sync trigger started",
		zap.Strings("channels", c.config.Channels),
		zap.Duration("interval", c.config.Interval),
		zap.Int("full_sync_every", c.config.FullSyncEvery),
	)
	return nil
}

// Stop stops the trigger loop
func (c *CatalogSyncTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Catalog sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerSync schedules a manual sync of one configured channel
func (c *CatalogSyncTrigger) TriggerSync(channelKey string, fullSync bool) (CatalogSyncJob, error) {
	if len(c.config.Channels) > 0 && !slices.Contains(c.config.Channels, channelKey) {
		return CatalogSyncJob{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelKey)
	}

	job, err := c.scheduler.ScheduleSync(channelKey, fullSync, SyncTriggerManual)
	if err != nil {
		return CatalogSyncJob{}, err
	}

	c.lastScheduledMu.Lock()
	c.lastScheduled[channelKey] = c.now()
	c.lastScheduledMu.Unlock()

	return job, nil
}

// Channels returns the configured channel keys
func (c *CatalogSyncTrigger) Channels() []string {
	return slices.Clone(c.config.Channels)
}

func (c *CatalogSyncTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.runCycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCycle()
		}
	}
}

// runCycle schedules every channel not scheduled within the last half interval.
// Every FullSyncEvery-th cycle requests full exports.
func (c *CatalogSyncTrigger) runCycle() {
	c.lastScheduledMu.Lock()
	defer c.lastScheduledMu.Unlock()

	c.cycle++
	fullSync := c.config.FullSyncEvery > 0 && c.cycle%c.config.FullSyncEvery == 0
	now := c.now()

	scheduled := 0
	for _, channelKey := range c.config.Channels {
		if last, ok := c.lastScheduled[channelKey]; ok && now.Sub(last) < c.config.Interval/2 {
			c.logger.Debug("Channel scheduled recently, skipping",
				zap.String("channel_key", channelKey),
				zap.Time("last_scheduled", last),
			)
			continue
		}

		job, err := c.scheduler.ScheduleSync(channelKey, fullSync, SyncTriggerSchedule)
		switch {
		case errors.Is(err, ErrJobAlreadyQueued):
			c.logger.Debug("Channel sync still in progress, skipping", zap.String("channel_key", channelKey))
			continue
		case err != nil:
			c.logger.Error("Failed to schedule catalog sync",
				zap.String("channel_key", channelKey),
				zap.Error(err),
			)
			continue
		}

		c.lastScheduled[channelKey] = now
		scheduled++
		c.logger.Debug("Scheduled catalog sync",
			zap.String("job_id", job.ID.String()),
			zap.String("channel_key", channelKey),
			zap.Bool("full_sync", fullSync),
		)
	}

	c.logger.Info("Catalog sync cycle completed",
		zap.Int("cycle", c.cycle),
		zap.Bool("full_sync", fullSync),
		zap.Int("scheduled", scheduled),
		zap.Int("channels", len(c.config.Channels)),
	)
}
