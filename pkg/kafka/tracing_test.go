package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte("basket.updated")}}
	c := NewKafkaHeaderCarrier(&headers)

	assert.Equal(t, "basket.updated", c.Get("event_type"))
	assert.Empty(t, c.Get("traceparent"))

	c.Set("traceparent", "00-abc-def-01")
	c.Set("event_type", "basket.cleared")

	assert.Equal(t, "basket.cleared", c.Get("event_type"))
	assert.ElementsMatch(t, []string{"event_type", "traceparent"}, c.Keys())
	assert.Len(t, headers, 2, "Set writes through to the wrapped slice")
}

func TestKafkaHeaderCarrier_Empty(t *testing.T) {
	var headers []kafka.Header
	c := NewKafkaHeaderCarrier(&headers)

	assert.Empty(t, c.Keys())
	assert.Empty(t, c.Get("anything"))
}

func TestKafkaHeaderCarrier_TraceContextRoundTrip(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b, 0x0c, 0x01},
		SpanID:     trace.SpanID{0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	var headers []kafka.Header
	prop.Inject(ctx, NewKafkaHeaderCarrier(&headers))

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), NewKafkaHeaderCarrier(&headers)))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsSampled())
}
