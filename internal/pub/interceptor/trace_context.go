package interceptor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"pubcompat/internal/pub"
)

// TraceContext copies the trace context of the sending goroutine into record
// headers, which travel as message attributes.
type TraceContext struct {
	propagator propagation.TextMapPropagator
}

// NewTraceContext uses propagator, or the global one when nil.
func NewTraceContext(propagator propagation.TextMapPropagator) *TraceContext {
	return &TraceContext{propagator: propagator}
}

func (t *TraceContext) OnSend(ctx context.Context, r pub.Record) (pub.Record, error) {
	p := t.propagator
	if p == nil {
		p = otel.GetTextMapPropagator()
	}

	carrier := propagation.MapCarrier{}
	p.Inject(ctx, carrier)
	for k, v := range carrier {
		r = r.WithHeader(k, v)
	}

	return r, nil
}

func (t *TraceContext) OnAcknowledgement(*pub.RecordMetadata, error) {}

func (t *TraceContext) Close() error { return nil }
