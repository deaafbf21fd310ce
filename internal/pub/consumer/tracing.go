package consumer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/tracing"
)

// TracedConsumer wraps a pub.Consumer with distributed tracing.
// Layer order: TracedConsumer -> MetricsConsumer -> Consumer
type TracedConsumer struct {
	consumer pub.Consumer
	tracer   *tracing.Tracer
}

func NewTracedConsumer(consumer pub.Consumer, tracer *tracing.Tracer) pub.Consumer {
	return &TracedConsumer{
		consumer: consumer,
		tracer:   tracer,
	}
}

func (c *TracedConsumer) Pull(ctx context.Context, topic, sub string, shard int) (n int, err error) {
	ctx, span := c.tracer.StartSpan(ctx, "consumer.pull",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(c.tracer.ConsumerAttributes(topic, sub, shard)...),
	)
	defer func() {
		span.SetAttributes(attribute.Int("pub.messages_handled", n))
		c.tracer.End(span, err)
	}()

	return c.consumer.Pull(ctx, topic, sub, shard)
}

func (c *TracedConsumer) Ack(ctx context.Context, sub string, msg pub.Message) (err error) {
	attrs := append(c.tracer.ConsumerAttributes(msg.Topic, sub, msg.Shard),
		attribute.String("messaging.message.id", msg.ID),
		attribute.Int64("pub.message_offset", int64(msg.Offset)),
	)
	ctx, span := c.tracer.StartSpan(ctx, "consumer.ack", trace.WithAttributes(attrs...))
	defer func() { c.tracer.End(span, err) }()

	return c.consumer.Ack(ctx, sub, msg)
}
