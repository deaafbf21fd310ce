package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/metrics"
	"pubcompat/internal/pub/tracing"
)

func TestDecoratedProducer(t *testing.T) {
	fp := &fakePublisher{autoAck: true}
	base := newTestProducer(t, fp, nil)

	registry := metrics.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	p := NewTracedProducer(NewMetricsProducer(base, registry), tracing.NewTracerFromProvider(tp, "test"))

	var called bool
	res, err := p.Send(context.Background(), pub.NewRecord("orders", []byte("hello")), func(md *pub.RecordMetadata, err error) {
		called = true
	})
	require.NoError(t, err)
	_, err = res.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, called)

	_, err = p.Send(context.Background(), nil, nil)
	require.ErrorIs(t, err, pub.ErrInvalidArgument)

	require.NoError(t, p.Flush(context.Background()))
	require.NoError(t, p.CloseWithTimeout(time.Second))

	count, err := testutil.GatherAndCount(registry.Gatherer(), "pub_producer_send_total", "pub_producer_complete_total", "pub_producer_close_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	spans := recorder.Ended()
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"producer.send", "producer.send", "producer.flush", "producer.close"}, names)

	var okSends, failedSends int
	for _, s := range spans {
		if s.Name() != "producer.send" {
			continue
		}
		switch s.Status().Code {
		case codes.Ok:
			okSends++
		case codes.Error:
			failedSends++
		}
	}
	assert.Equal(t, 1, okSends)
	assert.Equal(t, 1, failedSends)
}

func TestTracedProducerRecordsTransportFailure(t *testing.T) {
	fp := &fakePublisher{autoAck: true, failWith: errors.New("unavailable")}
	base := newTestProducer(t, fp, nil)
	defer base.Close()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	p := NewTracedProducer(base, tracing.NewTracerFromProvider(tp, "test"))

	res, err := p.Send(context.Background(), pub.NewRecord("orders", []byte("x")), nil)
	require.NoError(t, err)
	_, err = res.Get(context.Background())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
