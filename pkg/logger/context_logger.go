package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	peerIDKey    contextKey = "peer_id"
	roomIDKey    contextKey = "room_id"
)

// WithRequestID returns a context carrying a request id for log enrichment
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithPeerID returns a context carrying a peer id for log enrichment
func WithPeerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, peerIDKey, id)
}

// WithRoomID returns a context carrying a room id for log enrichment
func WithRoomID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, roomIDKey, id)
}

// FromContext returns base enriched with the ids carried by ctx and the
// trace id of its active span.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	var fields []interface{}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, "trace_id", sc.TraceID().String())
	}
	for _, key := range []contextKey{requestIDKey, peerIDKey, roomIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, string(key), v)
		}
	}

	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
