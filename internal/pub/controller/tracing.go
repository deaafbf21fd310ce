package controller

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/tracing"
)

// TracedController wraps a pub.Controller with distributed tracing
// Layer order: TracedController -> MetricsController -> Controller (real thing)
type TracedController struct {
	controller pub.Controller
	tracer     *tracing.Tracer
}

// NewTracedController creates a new traced controller that wraps a metrics controller
func NewTracedController(controller pub.Controller, tracer *tracing.Tracer) pub.Controller {
	return &TracedController{
		controller: controller,
		tracer:     tracer,
	}
}

// span starts "controller.<operation>" and returns the func that ends it with
// the outcome of the call.
func (c *TracedController) span(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(err *error)) {
	ctx, span := c.tracer.StartSpan(ctx, "controller."+operation)
	span.SetAttributes(c.tracer.DatabaseAttributes(operation)...)
	span.SetAttributes(attrs...)

	return ctx, func(err *error) { c.tracer.End(span, *err) }
}

func (c *TracedController) TopicExists(ctx context.Context, topic string) (ok bool, err error) {
	ctx, end := c.span(ctx, "topic_exists", attribute.String("pub.topic", topic))
	defer end(&err)

	return c.controller.TopicExists(ctx, topic)
}

func (c *TracedController) CreateTopic(ctx context.Context, topic string) (err error) {
	ctx, end := c.span(ctx, "create_topic", attribute.String("pub.topic", topic))
	defer end(&err)

	return c.controller.CreateTopic(ctx, topic)
}

func (c *TracedController) GetCursor(ctx context.Context, topic, sub string, shard int) (offset uint64, err error) {
	ctx, end := c.span(ctx, "get_cursor", c.tracer.ConsumerAttributes(topic, sub, shard)...)
	defer end(&err)

	offset, err = c.controller.GetCursor(ctx, topic, sub, shard)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("pub.cursor_offset", int64(offset)))
	return offset, err
}

func (c *TracedController) CommitCursor(topic, sub string, shard int, offset uint64) (err error) {
	attrs := append(c.tracer.ConsumerAttributes(topic, sub, shard), attribute.Int64("pub.cursor_offset", int64(offset)))
	_, end := c.span(context.Background(), "commit_cursor", attrs...)
	defer end(&err)

	return c.controller.CommitCursor(topic, sub, shard, offset)
}

func (c *TracedController) GetOffset(ctx context.Context, topic string, shard int) (offset uint64, err error) {
	ctx, end := c.span(ctx, "get_offset", c.tracer.ShardAttributes(topic, shard)...)
	defer end(&err)

	offset, err = c.controller.GetOffset(ctx, topic, shard)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("pub.write_offset", int64(offset)))
	return offset, err
}

func (c *TracedController) CommitOffset(topic string, shard int, currentOffset uint64) (err error) {
	attrs := append(c.tracer.ShardAttributes(topic, shard), attribute.Int64("pub.write_offset", int64(currentOffset)))
	_, end := c.span(context.Background(), "commit_offset", attrs...)
	defer end(&err)

	return c.controller.CommitOffset(topic, shard, currentOffset)
}

func (c *TracedController) InsertLease(ctx context.Context, sub string, msgID string, offset uint64) (err error) {
	ctx, end := c.span(ctx, "insert_lease",
		attribute.String("pub.subscription", sub),
		attribute.String("pub.message_id", msgID),
		attribute.Int64("pub.message_offset", int64(offset)),
	)
	defer end(&err)

	return c.controller.InsertLease(ctx, sub, msgID, offset)
}

func (c *TracedController) DeleteLease(ctx context.Context, sub string, msgID string) (err error) {
	ctx, end := c.span(ctx, "delete_lease",
		attribute.String("pub.subscription", sub),
		attribute.String("pub.message_id", msgID),
	)
	defer end(&err)

	return c.controller.DeleteLease(ctx, sub, msgID)
}

func (c *TracedController) InsertMessage(ctx context.Context, msg pub.Message) (err error) {
	attrs := append(c.tracer.ShardAttributes(msg.Topic, msg.Shard),
		attribute.String("pub.message_id", msg.ID),
		attribute.Int64("pub.message_offset", int64(msg.Offset)),
		attribute.Int("pub.message_size", msg.Size()),
	)
	ctx, end := c.span(ctx, "insert_message", attrs...)
	defer end(&err)

	return c.controller.InsertMessage(ctx, msg)
}

func (c *TracedController) LoadMessages(ctx context.Context, topic string, shard int, fromOffset uint64, limit int) (msgs []pub.Message, err error) {
	attrs := append(c.tracer.ShardAttributes(topic, shard),
		attribute.Int64("pub.from_offset", int64(fromOffset)),
		attribute.Int("pub.limit", limit),
	)
	ctx, end := c.span(ctx, "load_messages", attrs...)
	defer end(&err)

	msgs, err = c.controller.LoadMessages(ctx, topic, shard, fromOffset, limit)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("pub.messages_loaded", len(msgs)))
	return msgs, err
}
