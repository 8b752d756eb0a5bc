package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "catalogsync:"

// releaseLockScript deletes the lock only if it still belongs to the caller,
// so an expired lock re-acquired by another instance is left alone.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncStateStore implements integration.SyncStateStore using Redis.
// Instances sharing a Redis see the same delta dates and channel locks.
type RedisSyncStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisSyncStateStore connects to Redis and verifies the connection
func NewRedisSyncStateStore(ctx context.Context, cfg RedisConfig) (*RedisSyncStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSyncStateStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisSyncStateStoreWithClient creates a store with an existing Redis client
func NewRedisSyncStateStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisSyncStateStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisSyncStateStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisSyncStateStore) lastSyncKey(channelKey string) string {
	return s.keyPrefix + "last_sync:" + channelKey
}

func (s *RedisSyncStateStore) lockKey(channelKey string) string {
	return s.keyPrefix + "lock:" + channelKey
}

// LastSync returns the stored delta date for channelKey
func (s *RedisSyncStateStore) LastSync(ctx context.Context, channelKey string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.lastSyncKey(channelKey)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last sync time %q: %w", raw, err)
	}
	return t.UTC(), true, nil
}

// SetLastSync stores the delta date for channelKey without expiry
func (s *RedisSyncStateStore) SetLastSync(ctx context.Context, channelKey string, t time.Time) error {
	value := t.UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, s.lastSyncKey(channelKey), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to store last sync time: %w", err)
	}
	return nil
}

// AcquireLock takes the channel lock with SET NX and a TTL
func (s *RedisSyncStateStore) AcquireLock(ctx context.Context, channelKey, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(channelKey), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire channel lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the channel lock if owner still holds it
func (s *RedisSyncStateStore) ReleaseLock(ctx context.Context, channelKey, owner string) error {
	if err := releaseLockScript.Run(ctx, s.client, []string{s.lockKey(channelKey)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release channel lock: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisSyncStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying client, shared with other Redis users such as the event forwarder
func (s *RedisSyncStateStore) Client() redis.UniversalClient {
	return s.client
}

// Close closes the Redis client
func (s *RedisSyncStateStore) Close() error {
	return s.client.Close()
}

var _ integration.SyncStateStore = (*RedisSyncStateStore)(nil)
