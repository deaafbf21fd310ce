package controller

import (
	"context"
	"time"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/metrics"
)

// MetricsController wraps a pub.Controller with metrics collection
type MetricsController struct {
	controller pub.Controller
	registry   *metrics.Registry
}

// NewMetricsController creates a new instrumented controller
func NewMetricsController(controller pub.Controller, registry *metrics.Registry) pub.Controller {
	return &MetricsController{
		controller: controller,
		registry:   registry,
	}
}

// observe is deferred by every method with the call start and its named error.
func (c *MetricsController) observe(operation string, start time.Time, err *error) {
	c.registry.RecordDatabaseOperation(operation, time.Since(start), *err)
}

func (c *MetricsController) TopicExists(ctx context.Context, topic string) (ok bool, err error) {
	defer c.observe("topic_exists", time.Now(), &err)
	return c.controller.TopicExists(ctx, topic)
}

func (c *MetricsController) CreateTopic(ctx context.Context, topic string) (err error) {
	defer c.observe("create_topic", time.Now(), &err)
	return c.controller.CreateTopic(ctx, topic)
}

func (c *MetricsController) GetCursor(ctx context.Context, topic, sub string, shard int) (offset uint64, err error) {
	defer c.observe("get_cursor", time.Now(), &err)
	return c.controller.GetCursor(ctx, topic, sub, shard)
}

func (c *MetricsController) CommitCursor(topic, sub string, shard int, offset uint64) (err error) {
	defer c.observe("commit_cursor", time.Now(), &err)
	return c.controller.CommitCursor(topic, sub, shard, offset)
}

func (c *MetricsController) GetOffset(ctx context.Context, topic string, shard int) (offset uint64, err error) {
	defer c.observe("get_offset", time.Now(), &err)
	return c.controller.GetOffset(ctx, topic, shard)
}

func (c *MetricsController) CommitOffset(topic string, shard int, currentOffset uint64) (err error) {
	defer c.observe("commit_offset", time.Now(), &err)
	return c.controller.CommitOffset(topic, shard, currentOffset)
}

func (c *MetricsController) InsertLease(ctx context.Context, sub string, msgID string, offset uint64) (err error) {
	defer c.observe("insert_lease", time.Now(), &err)
	return c.controller.InsertLease(ctx, sub, msgID, offset)
}

func (c *MetricsController) DeleteLease(ctx context.Context, sub string, msgID string) (err error) {
	defer c.observe("delete_lease", time.Now(), &err)
	return c.controller.DeleteLease(ctx, sub, msgID)
}

func (c *MetricsController) InsertMessage(ctx context.Context, msg pub.Message) (err error) {
	defer c.observe("insert_message", time.Now(), &err)
	return c.controller.InsertMessage(ctx, msg)
}

func (c *MetricsController) LoadMessages(ctx context.Context, topic string, shard int, fromOffset uint64, limit int) (msgs []pub.Message, err error) {
	defer c.observe("load_messages", time.Now(), &err)
	return c.controller.LoadMessages(ctx, topic, shard, fromOffset, limit)
}
