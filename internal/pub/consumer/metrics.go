package consumer

import (
	"context"
	"time"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/metrics"
)

// MetricsConsumer records pull and ack outcomes of a pub.Consumer.
type MetricsConsumer struct {
	consumer pub.Consumer
	registry *metrics.Registry
}

func NewMetricsConsumer(consumer pub.Consumer, registry *metrics.Registry) pub.Consumer {
	return &MetricsConsumer{
		consumer: consumer,
		registry: registry,
	}
}

func (c *MetricsConsumer) Pull(ctx context.Context, topic, sub string, shard int) (n int, err error) {
	defer func(start time.Time) {
		c.registry.RecordConsumerPull(topic, sub, shard, n, time.Since(start), err)
	}(time.Now())

	return c.consumer.Pull(ctx, topic, sub, shard)
}

func (c *MetricsConsumer) Ack(ctx context.Context, sub string, msg pub.Message) (err error) {
	defer func() { c.registry.RecordConsumerAck(msg.Topic, sub, msg.Shard, err) }()

	return c.consumer.Ack(ctx, sub, msg)
}
