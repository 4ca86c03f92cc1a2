package telemetry

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func sampledContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), spanCtx)
}

func TestEventHeadersCarryTraceContext(t *testing.T) {
	_, err := InitTracer(context.Background(), TracerConfig{ServiceName: "test"})
	require.NoError(t, err)

	headers := EventHeaders(sampledContext(t),
		kafka.Header{Key: "event-type", Value: []byte("reward_result")},
		kafka.Header{Key: "Traceparent", Value: []byte("stale")},
	)

	require.Len(t, headers, 2)
	assert.Equal(t, "event-type", headers[0].Key)
	assert.Equal(t, "traceparent", headers[1].Key)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", string(headers[1].Value))
}

func TestEventHeadersWithoutSpan(t *testing.T) {
	_, err := InitTracer(context.Background(), TracerConfig{ServiceName: "test"})
	require.NoError(t, err)

	headers := EventHeaders(context.Background(), kafka.Header{Key: "event-type", Value: []byte("purchase_grant")})
	require.Len(t, headers, 1)
	assert.Equal(t, "purchase_grant", string(headers[0].Value))
}

func TestTraceID(t *testing.T) {
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", TraceID(sampledContext(t)))
	assert.Empty(t, TraceID(context.Background()))
}
