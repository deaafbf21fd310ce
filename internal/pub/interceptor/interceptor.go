// Package interceptor runs ordered, fault-isolated hooks around every send.
package interceptor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pubcompat/internal/pub"
)

// Interceptor observes and may replace records before they are serialized, and
// observes every completion.
type Interceptor interface {
	// OnSend returns the record to dispatch in place of r.
	OnSend(ctx context.Context, r pub.Record) (pub.Record, error)

	// OnAcknowledgement is called once per completed send. Exactly one of md and
	// err is non-nil.
	OnAcknowledgement(md *pub.RecordMetadata, err error)

	// Close releases the interceptor. It is called once, when the producer closes.
	Close() error
}

// Chain runs interceptors in their configured order. A failing interceptor is
// logged and skipped; it never blocks a send or reaches the caller.
type Chain struct {
	interceptors []Interceptor
	logger       *zap.Logger
}

// NewChain returns a chain over interceptors in the given order.
func NewChain(logger *zap.Logger, interceptors ...Interceptor) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Chain{
		interceptors: interceptors,
		logger:       logger.Named("interceptors"),
	}
}

// Len returns the number of interceptors in the chain.
func (c *Chain) Len() int {
	return len(c.interceptors)
}

// result is the outcome of one OnSend step.
type result struct {
	record pub.Record
	err    error
}

// OnSend threads r through every interceptor. When one fails, the record as it
// stood before that interceptor is passed on to the next.
func (c *Chain) OnSend(ctx context.Context, r pub.Record) pub.Record {
	for i, in := range c.interceptors {
		res := c.onSend(ctx, in, r)
		if res.err != nil {
			c.logger.Warn("interceptor onSend failed, continuing with previous record",
				zap.Int("index", i),
				zap.String("interceptor", fmt.Sprintf("%T", in)),
				zap.String("topic", r.Topic),
				zap.Error(res.err),
			)
			continue
		}
		r = res.record
	}

	return r
}

func (c *Chain) onSend(ctx context.Context, in Interceptor, r pub.Record) (res result) {
	defer func() {
		if p := recover(); p != nil {
			res = result{err: fmt.Errorf("%w: panic in onSend: %v", pub.ErrInterceptor, p)}
		}
	}()

	out, err := in.OnSend(ctx, r)
	if err != nil {
		return result{err: fmt.Errorf("%w: %w", pub.ErrInterceptor, err)}
	}

	return result{record: out}
}

// OnAcknowledgement notifies every interceptor of a completion, in order.
func (c *Chain) OnAcknowledgement(md *pub.RecordMetadata, err error) {
	for i, in := range c.interceptors {
		if hookErr := c.onAcknowledgement(in, md, err); hookErr != nil {
			c.logger.Warn("interceptor onAcknowledgement failed",
				zap.Int("index", i),
				zap.String("interceptor", fmt.Sprintf("%T", in)),
				zap.Error(hookErr),
			)
		}
	}
}

func (c *Chain) onAcknowledgement(in Interceptor, md *pub.RecordMetadata, err error) (hookErr error) {
	defer func() {
		if p := recover(); p != nil {
			hookErr = fmt.Errorf("%w: panic in onAcknowledgement: %v", pub.ErrInterceptor, p)
		}
	}()

	in.OnAcknowledgement(md, err)
	return nil
}

// Close closes every interceptor, logging failures.
func (c *Chain) Close() {
	for i, in := range c.interceptors {
		if err := c.close(in); err != nil {
			c.logger.Warn("interceptor close failed",
				zap.Int("index", i),
				zap.String("interceptor", fmt.Sprintf("%T", in)),
				zap.Error(err),
			)
		}
	}
}

func (c *Chain) close(in Interceptor) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic in close: %v", pub.ErrInterceptor, p)
		}
	}()

	if err := in.Close(); err != nil {
		return fmt.Errorf("%w: %w", pub.ErrInterceptor, err)
	}
	return nil
}
