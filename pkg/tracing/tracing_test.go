package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		provider.Shutdown(context.Background())
	})
	return recorder
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "meetsfu", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSpanHelpers_NoRecordingSpan(t *testing.T) {
	ctx := context.Background()
	AddSpanAttributes(ctx, attribute.String("test.key", "test.value"))
	RecordError(ctx, errors.New("test error"))
}

func TestTraceSignalRequest(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := TraceSignalRequest(context.Background(), "join", "peer-1", "room-1")
	AddSpanAttributes(ctx, UserIDKey.String("alice"))
	RecordError(ctx, errors.New("room is full"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "signal.join", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "room is full", spans[0].Status().Description)

	got := attrs(spans[0].Attributes())
	assert.Equal(t, "join", got[MethodKey])
	assert.Equal(t, "peer-1", got[PeerIDKey])
	assert.Equal(t, "room-1", got[RoomIDKey])
	assert.Equal(t, "alice", got[UserIDKey])
}

func TestTraceMediaOperation(t *testing.T) {
	recorder := recordSpans(t)

	parent, root := StartSpan(context.Background(), "signal.createTransport")
	_, span := TraceMediaOperation(parent, "createTransport",
		RoomIDKey.String("room-1"),
		TransportIDKey.String("t-1"),
	)
	span.End()
	root.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "media.createTransport", spans[0].Name())
	assert.Equal(t, root.SpanContext().SpanID(), spans[0].Parent().SpanID())

	got := attrs(spans[0].Attributes())
	assert.Equal(t, "createTransport", got["media.operation"])
	assert.Equal(t, "t-1", got[TransportIDKey])
}

func TestTraceHTTPRequest(t *testing.T) {
	recorder := recordSpans(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/api/v1/introspection/rooms")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "http.GET", spans[0].Name())
}

func TestExtractHTTP(t *testing.T) {
	_, err := Init(DefaultConfig())
	require.NoError(t, err)

	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	sc := trace.SpanContextFromContext(ExtractHTTP(context.Background(), header))
	require.True(t, sc.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.True(t, sc.IsRemote())

	sc = trace.SpanContextFromContext(ExtractHTTP(context.Background(), http.Header{}))
	assert.False(t, sc.IsValid())
}
