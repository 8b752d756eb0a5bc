package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	jobIDKey      contextKey = "job_id"
	channelKeyKey contextKey = "channel_key"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithJob tags the context and its logger with a sync job and channel
func WithJob(ctx context.Context, logger *zap.Logger, jobID, channelKey string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	ctx = context.WithValue(ctx, channelKeyKey, channelKey)
	enriched := logger.With(zap.String("job_id", jobID), zap.String("channel_key", channelKey))
	return WithContext(ctx, enriched), enriched
}

// JobID returns the sync job id stored in ctx
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// ChannelKey returns the channel key stored in ctx
func ChannelKey(ctx context.Context) string {
	key, _ := ctx.Value(channelKeyKey).(string)
	return key
}

// =============================================================================
// Trace Correlation
// =============================================================================

// TraceID extracts the trace ID from the context's span, or ""
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// WithTraceContext adds trace_id and span_id from the context's span.
// The logger is returned unchanged when there is no valid span.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}

// L returns the context logger with trace correlation fields.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}
