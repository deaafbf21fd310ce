package consumer

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/memory"
	"pubcompat/internal/pub/metrics"
	"pubcompat/internal/pub/tracing"
)

func TestDecoratedConsumer(t *testing.T) {
	ctx := context.Background()
	ctrl := memory.NewController()
	seed(t, ctrl, "orders", 3)

	registry := metrics.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(ctx)

	base, err := NewConsumer(ctrl, (&collector{}).handle, zaptest.NewLogger(t), 10)
	require.NoError(t, err)
	c := NewTracedConsumer(NewMetricsConsumer(base, registry), tracing.NewTracerFromProvider(tp, "test"))

	n, err := c.Pull(ctx, "orders", "billing", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, c.Ack(ctx, "audit", pub.Message{ID: pub.MessageKey("orders", 0, 0), Topic: "orders"}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "consumer.pull", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("pub.messages_handled", 3))
	assert.Equal(t, "consumer.ack", spans[1].Name())
	for _, s := range spans {
		assert.Equal(t, codes.Ok, s.Status().Code)
	}

	count, err := testutil.GatherAndCount(registry.Gatherer(),
		"pub_consumer_consume_total",
		"pub_consumer_messages_consumed_total",
		"pub_consumer_ack_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	cursor, err := ctrl.GetCursor(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cursor)
}
