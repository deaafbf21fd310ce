package producer

import (
	"context"
	"time"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/metrics"
)

// MetricsProducer wraps a pub.Producer with metrics collection
type MetricsProducer struct {
	producer pub.Producer
	registry *metrics.Registry
}

// NewMetricsProducer creates a new instrumented producer
func NewMetricsProducer(producer pub.Producer, registry *metrics.Registry) pub.Producer {
	return &MetricsProducer{
		producer: producer,
		registry: registry,
	}
}

// Send implements pub.Producer.Send, observing both the call and the completion.
func (p *MetricsProducer) Send(ctx context.Context, record *pub.Record, cb pub.Callback) (*pub.SendResult, error) {
	var topic string
	if record != nil {
		topic = record.Topic
	}

	start := time.Now()
	wrapped := func(md *pub.RecordMetadata, err error) {
		var keySize, valueSize int
		if md != nil {
			keySize, valueSize = md.SerializedKeySize, md.SerializedValueSize
		}
		p.registry.RecordSendComplete(topic, keySize, valueSize, time.Since(start), err)

		if cb != nil {
			cb(md, err)
		}
	}

	res, err := p.producer.Send(ctx, record, wrapped)
	p.registry.RecordSend(topic, err)

	return res, err
}

// Flush implements pub.Producer.Flush with metrics collection
func (p *MetricsProducer) Flush(ctx context.Context) error {
	start := time.Now()
	err := p.producer.Flush(ctx)
	p.registry.RecordFlush(time.Since(start))

	return err
}

// Close implements pub.Producer.Close with metrics collection
func (p *MetricsProducer) Close() error {
	err := p.producer.Close()
	p.registry.RecordClose(err)

	return err
}

// CloseWithTimeout implements pub.Producer.CloseWithTimeout with metrics collection
func (p *MetricsProducer) CloseWithTimeout(timeout time.Duration) error {
	err := p.producer.CloseWithTimeout(timeout)
	p.registry.RecordClose(err)

	return err
}
