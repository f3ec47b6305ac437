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

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPeerID(ctx, "peer-1")
	ctx = WithRoomID(ctx, "")

	traceID := trace.TraceID{1, 2, 3}
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{4},
	}))

	FromContext(ctx, base).Infow("hello")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "peer-1", fields["peer_id"])
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.NotContains(t, fields, "room_id")
}

func TestFromContext_NoFields(t *testing.T) {
	base := zap.NewNop().Sugar()
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestNewWithFormat(t *testing.T) {
	l := NewWithFormat("debug", "console")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("bogus")
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}
