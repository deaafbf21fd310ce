package publisher

import (
	"go.uber.org/zap"

	"pubcompat/internal/pub/metrics"
	"pubcompat/internal/pub/tracing"
)

const defaultInsertConcurrency = 16

// Option customizes a Publisher.
type Option func(*Publisher)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records every bundle write on registry.
func WithMetrics(registry *metrics.Registry) Option {
	return func(p *Publisher) {
		p.registry = registry
	}
}

// WithTracer wraps every bundle write in a span.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(p *Publisher) {
		p.tracer = tracer
	}
}

// WithInsertConcurrency bounds the concurrent message inserts of one bundle.
func WithInsertConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.insertLimit = n
		}
	}
}
