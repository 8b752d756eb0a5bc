package cache

import (
	"context"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// SyncStateStoreFactory creates sync state stores based on configuration
type SyncStateStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// SyncStateStoreFactoryOption is a functional option for configuring the factory
type SyncStateStoreFactoryOption func(*SyncStateStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SyncStateStoreFactoryOption {
	return func(f *SyncStateStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) SyncStateStoreFactoryOption {
	return func(f *SyncStateStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewSyncStateStoreFactory creates a new factory
func NewSyncStateStoreFactory(cfg config.RedisConfig, opts ...SyncStateStoreFactoryOption) *SyncStateStoreFactory {
	f := &SyncStateStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns a Redis store when Redis is enabled and reachable.
// Otherwise it falls back to the in-memory store if allowed.
// The returned close func releases the Redis client and is never nil.
func (f *SyncStateStoreFactory) CreateStore(ctx context.Context) (integration.SyncStateStore, func() error, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory sync state store")
		return NewInMemorySyncStateStore(), func() error { return nil }, nil
	}

	store, err := NewRedisSyncStateStore(ctx, RedisConfig{
		Host:      f.redisConfig.Host,
		Port:      f.redisConfig.Port,
		Password:  f.redisConfig.Password,
		DB:        f.redisConfig.DB,
		KeyPrefix: f.redisConfig.KeyPrefix,
	})
	if err == nil {
		f.logger.Info("Using Redis sync state store", zap.String("addr", f.redisConfig.Addr()))
		return store, store.Close, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("Redis required for sync state but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory sync state store. "+
		"Channel locks are not shared across instances.",
		zap.Error(err),
	)
	return NewInMemorySyncStateStore(), func() error { return nil }, nil
}
