package producer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/interceptor"
	"pubcompat/internal/pub/serialization"
)

// Producer publishes keyed records through a pub.Publisher with the contract of
// a conventional asynchronous producer: Send never waits on the network,
// completion is reported once per send, Flush and Close drain what was
// accepted, and nothing is accepted after Close.
type Producer struct {
	cfg        Config
	logger     *zap.Logger
	chain      *interceptor.Chain
	pipeline   *serialization.Pipeline
	dispatcher *dispatcher
	now        func() time.Time

	releaseOnce sync.Once
	done        chan struct{}
}

// New builds a producer from props, resolving serializers and interceptors and
// building the transport with factory.
func New(ctx context.Context, props map[string]any, factory pub.PublisherFactory, opts ...Option) (*Producer, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil publisher factory", pub.ErrConfig)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := ParseConfig(props)
	if err != nil {
		return nil, err
	}

	logger := o.logger.Named("producer").With(zap.String("clientID", cfg.ClientID))

	keySerializer := o.keySerializer
	if keySerializer == nil {
		if keySerializer, err = o.serializers.Resolve(cfg.KeySerializer, props, nil); err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", PropKeySerializer, err)
		}
	}
	valueSerializer := o.valueSerializer
	if valueSerializer == nil {
		if valueSerializer, err = o.serializers.Resolve(cfg.ValueSerializer, props, nil); err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", PropValueSerializer, err)
		}
	}

	interceptors, err := o.interceptors.Build(cfg.Interceptors, props)
	if err != nil {
		return nil, fmt.Errorf("failed to build interceptor chain: %w", err)
	}
	chain := interceptor.NewChain(logger, interceptors...)

	if admin := o.topicAdmin; admin != nil {
		if scoper, ok := admin.(pub.ProjectScoper); ok && cfg.Project != "" {
			admin = scoper.InProject(cfg.Project)
		}
		if err := ensureTopics(ctx, admin, cfg.Topics, cfg.AutoCreateTopics, logger); err != nil {
			chain.Close()
			return nil, err
		}
	}

	publisher, err := factory(ctx, cfg.Publish)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("failed to build publisher: %w", err)
	}

	logger.Info("producer created",
		zap.Int("acks", cfg.Acks),
		zap.Strings("interceptors", cfg.Interceptors),
		zap.Int("batchCount", cfg.Publish.CountThreshold),
		zap.Duration("linger", cfg.Publish.DelayThreshold),
	)

	return &Producer{
		cfg:        cfg,
		logger:     logger,
		chain:      chain,
		pipeline:   serialization.NewPipeline(keySerializer, valueSerializer),
		dispatcher: newDispatcher(publisher, chain, logger),
		now:        o.now,
		done:       make(chan struct{}),
	}, nil
}

func ensureTopics(ctx context.Context, admin pub.TopicAdmin, topics []string, create bool, logger *zap.Logger) error {
	for _, topic := range topics {
		exists, err := admin.TopicExists(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to check topic %s: %w", topic, err)
		}
		if exists {
			continue
		}
		if !create {
			return fmt.Errorf("%w: %s", pub.ErrTopicNotFound, topic)
		}
		if err := admin.CreateTopic(ctx, topic); err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		logger.Info("created topic", zap.String("topic", topic))
	}

	return nil
}

// Config returns the parsed producer configuration.
func (p *Producer) Config() Config {
	return p.cfg
}

// Send validates record, runs it through the interceptor chain, serializes it
// and dispatches it. Errors returned here are synchronous and the callback is
// not invoked for them; transport failures arrive only through cb and the
// returned result.
func (p *Producer) Send(ctx context.Context, record *pub.Record, cb pub.Callback) (*pub.SendResult, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil record", pub.ErrInvalidArgument)
	}
	if record.Topic == "" {
		return nil, fmt.Errorf("%w: record topic is empty", pub.ErrInvalidArgument)
	}
	if p.dispatcher.isClosed() {
		return nil, pub.ErrProducerClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := p.chain.OnSend(ctx, *record)
	if r.Topic == "" {
		return nil, fmt.Errorf("%w: interceptors left an empty topic", pub.ErrInvalidArgument)
	}

	keyBytes, valueBytes, err := p.pipeline.Serialize(r.Topic, r.Key, r.Value)
	if err != nil {
		return nil, err
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	msg := newMessage(r, keyBytes, valueBytes, ts)

	return p.dispatcher.enqueue(ctx, r, msg, len(keyBytes), len(valueBytes), ts.UnixMilli(), cb)
}

func newMessage(r pub.Record, key, value []byte, ts time.Time) *pub.Message {
	attrs := make(map[string]string, len(r.Headers)+3)
	for k, v := range r.Headers {
		attrs[k] = v
	}
	attrs[pub.AttrKey] = string(key)
	attrs[pub.AttrTimestamp] = strconv.FormatInt(ts.UnixMilli(), 10)
	if r.Partition != nil {
		attrs[pub.AttrPartition] = strconv.Itoa(*r.Partition)
	}

	return &pub.Message{
		Topic:      r.Topic,
		Data:       value,
		Attributes: attrs,
	}
}

// Flush blocks until every send accepted before the call has completed, or ctx
// ends. Sends made concurrently with Flush are not waited for.
func (p *Producer) Flush(ctx context.Context) error {
	if p.dispatcher.isClosed() {
		return pub.ErrProducerClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !p.dispatcher.awaitAllPending(ctx) {
		return fmt.Errorf("flush interrupted with %d sends pending: %w", p.dispatcher.len(), ctx.Err())
	}

	return nil
}

// Close stops accepting sends and waits for all pending ones before closing
// the interceptors and the transport. Once another close has started, Close
// only waits for that close to release them.
func (p *Producer) Close() error {
	return p.close(context.Background())
}

// CloseWithTimeout is Close, waiting at most timeout for pending sends. Sends
// not done in time still complete and deliver their callbacks; interceptors
// and transport are closed once they have, which Done reports. A negative
// timeout is rejected without side effects.
func (p *Producer) CloseWithTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("%w: negative close timeout %s", pub.ErrInvalidArgument, timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return p.close(ctx)
}

func (p *Producer) close(ctx context.Context) error {
	pending, first := p.dispatcher.shutdown()
	if !first {
		select {
		case <-p.done:
		case <-ctx.Done():
		}
		return nil
	}

	p.logger.Info("closing producer", zap.Int("pending", len(pending)))

	if p.dispatcher.await(ctx, pending) {
		p.release()
		return nil
	}

	p.logger.Warn("close timed out, finishing drain in background", zap.Int("pending", p.dispatcher.len()))

	go func() {
		p.dispatcher.await(context.Background(), pending)
		p.release()
	}()

	return nil
}

func (p *Producer) release() {
	p.releaseOnce.Do(func() {
		p.chain.Close()
		p.dispatcher.publisher.Stop()
		p.logger.Info("producer closed")
		close(p.done)
	})
}

// Done is closed once the producer released its interceptors and transport.
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Pending returns the number of sends in flight.
func (p *Producer) Pending() int {
	return p.dispatcher.len()
}

var _ pub.Producer = (*Producer)(nil)
