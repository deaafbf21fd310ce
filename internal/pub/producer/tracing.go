package producer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/tracing"
)

// TracedProducer wraps a pub.Producer with distributed tracing. The send span
// stays open until the record is acknowledged or fails.
// Layer order: TracedProducer -> MetricsProducer -> Producer (real thing)
type TracedProducer struct {
	producer pub.Producer
	tracer   *tracing.Tracer
}

// NewTracedProducer creates a new traced producer that wraps a metrics producer
func NewTracedProducer(producer pub.Producer, tracer *tracing.Tracer) pub.Producer {
	return &TracedProducer{
		producer: producer,
		tracer:   tracer,
	}
}

// Send implements pub.Producer.Send with distributed tracing
func (p *TracedProducer) Send(ctx context.Context, record *pub.Record, cb pub.Callback) (*pub.SendResult, error) {
	ctx, span := p.tracer.StartSpan(ctx, "producer.send", trace.WithSpanKind(trace.SpanKindProducer))
	if record != nil {
		span.SetAttributes(p.tracer.RecordAttributes(record.Topic, record.Partition, len(record.Headers))...)
	}

	wrapped := func(md *pub.RecordMetadata, err error) {
		if md != nil {
			span.SetAttributes(p.tracer.AckAttributes(md.Topic, md.SerializedKeySize, md.SerializedValueSize, md.MessageID)...)
		}
		p.tracer.End(span, err)

		if cb != nil {
			cb(md, err)
		}
	}

	res, err := p.producer.Send(ctx, record, wrapped)
	if err != nil {
		p.tracer.End(span, err)
	}

	return res, err
}

func (p *TracedProducer) Flush(ctx context.Context) (err error) {
	ctx, span := p.tracer.StartSpan(ctx, "producer.flush")
	defer func() { p.tracer.End(span, err) }()

	return p.producer.Flush(ctx)
}

func (p *TracedProducer) Close() (err error) {
	_, span := p.tracer.StartSpan(context.Background(), "producer.close")
	defer func() { p.tracer.End(span, err) }()

	return p.producer.Close()
}

func (p *TracedProducer) CloseWithTimeout(timeout time.Duration) (err error) {
	_, span := p.tracer.StartSpan(context.Background(), "producer.close",
		trace.WithAttributes(attribute.String("pub.close_timeout", timeout.String())),
	)
	defer func() { p.tracer.End(span, err) }()

	return p.producer.CloseWithTimeout(timeout)
}
