package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_DefaultsToNop(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestWithJob(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx, log := WithJob(context.Background(), zap.New(core), "job-1", "web")

	assert.Equal(t, "job-1", JobID(ctx))
	assert.Equal(t, "web", ChannelKey(ctx))

	log.Info("hello")
	FromContext(ctx).Info("from context")

	for _, entry := range logs.All() {
		fields := entry.ContextMap()
		assert.Equal(t, "job-1", fields["job_id"])
		assert.Equal(t, "web", fields["channel_key"])
	}
	assert.Equal(t, 2, logs.Len())
}

func TestTraceCorrelation(t *testing.T) {
	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	assert.Equal(t, traceID.String(), TraceID(ctx))
	assert.Empty(t, TraceID(context.Background()))

	core, logs := observer.New(zapcore.InfoLevel)
	ctx = WithContext(ctx, zap.New(core))
	L(ctx).Info("traced")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithTraceContext(context.Background(), base))
}
