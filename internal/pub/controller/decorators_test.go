package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/memory"
	"pubcompat/internal/pub/metrics"
	"pubcompat/internal/pub/tracing"
)

func TestDecoratorsDelegate(t *testing.T) {
	ctx := context.Background()
	base := memory.NewController()
	registry := metrics.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(ctx)

	c := NewTracedController(NewMetricsController(base, registry), tracing.NewTracerFromProvider(tp, "test"))

	require.NoError(t, c.CreateTopic(ctx, "orders"))
	ok, err := c.TopicExists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.InsertMessage(ctx, pub.Message{ID: pub.MessageKey("orders", 0, 0), Topic: "orders"}))
	require.NoError(t, c.CommitOffset("orders", 0, 1))

	n, err := c.GetOffset(ctx, "orders", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	msgs, err := c.LoadMessages(ctx, "orders", 0, 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	require.NoError(t, c.InsertLease(ctx, "audit", msgs[0].ID, 0))
	require.NoError(t, c.DeleteLease(ctx, "audit", msgs[0].ID))
	require.NoError(t, c.CommitCursor("orders", "audit", 0, 1))
	cur, err := c.GetCursor(ctx, "orders", "audit", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur)

	assert.Len(t, recorder.Ended(), 10)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.DatabaseOperations("get_offset", metrics.StatusSuccess)))
}

func TestDecoratorsRecordErrors(t *testing.T) {
	base := memory.NewController()
	boom := errors.New("boom")
	base.Fail(memory.OpCommitOffset, boom)

	registry := metrics.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	c := NewTracedController(NewMetricsController(base, registry), tracing.NewTracerFromProvider(tp, "test"))

	require.ErrorIs(t, c.CommitOffset("orders", 0, 1), boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "controller.commit_offset", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.DatabaseOperations("commit_offset", metrics.StatusError)))
}
