package event

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamMaxLen bounds the event stream; trimming is approximate
const DefaultStreamMaxLen = 10000

// StreamAdder is the subset of the redis client used by the forwarder
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamForwarder copies catalog events onto a Redis stream so other
// services can react to a freshly published feed.
type RedisStreamForwarder struct {
	client     StreamAdder
	stream     string
	maxLen     int64
	serializer *EventSerializer
	logger     *zap.Logger
}

// NewRedisStreamForwarder creates a forwarder writing to stream
func NewRedisStreamForwarder(client StreamAdder, stream string, serializer *EventSerializer, logger *zap.Logger) *RedisStreamForwarder {
	if serializer == nil {
		serializer = NewCatalogEventSerializer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStreamForwarder{
		client:     client,
		stream:     stream,
		maxLen:     DefaultStreamMaxLen,
		serializer: serializer,
		logger:     logger,
	}
}

// EventTypes returns the catalog event types
func (f *RedisStreamForwarder) EventTypes() []string {
	return []string{integration.EventTypeCatalogSynced, integration.EventTypeCatalogSyncFailed}
}

// Handle appends the event to the stream
func (f *RedisStreamForwarder) Handle(ctx context.Context, event shared.DomainEvent) error {
	payload, err := f.serializer.Serialize(event)
	if err != nil {
		return err
	}

	id, err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		MaxLen: f.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":     event.EventID().String(),
			"event_type":   event.EventType(),
			"aggregate_id": event.AggregateID(),
			"occurred_at":  event.OccurredAt().UTC().Format(time.RFC3339Nano),
			"payload":      string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to forward event %s to %s: %w", event.EventID(), f.stream, err)
	}

	f.logger.Debug("event forwarded",
		zap.String("stream", f.stream),
		zap.String("stream_id", id),
		zap.String("event_type", event.EventType()),
	)
	return nil
}

var _ shared.EventHandler = (*RedisStreamForwarder)(nil)
