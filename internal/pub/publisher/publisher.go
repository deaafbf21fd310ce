// Package publisher is the couchbase publish transport. It appends messages to
// the message log kept by a pub.Controller, bundling them per topic shard.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/couchbase/gocb/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/metrics"
	"pubcompat/internal/pub/tracing"
	"pubcompat/internal/validator"
)

// ErrStopped is returned for a publish issued after Stop.
var ErrStopped = errors.New("publisher stopped")

type laneKey struct {
	topic string
	shard int
}

// lane holds the bundles of one topic shard. Sealed bundles are written one at
// a time, in the order they were sealed.
type lane struct {
	key     laneKey
	open    *bundle
	sealed  []*bundle
	writing bool
}

type bundle struct {
	items []item
	bytes int
	timer *time.Timer
}

type item struct {
	msg     pub.Message
	resolve func(string, error)
}

// Publisher is an asynchronous pub.Publisher over the couchbase message log.
// Each bundle reserves a run of offsets: it reads the shard offset, inserts its
// messages at consecutive offsets and commits the advanced offset.
type Publisher struct {
	controller  pub.Controller
	settings    pub.PublishSettings
	logger      *zap.Logger
	registry    *metrics.Registry
	tracer      *tracing.Tracer
	insertLimit int

	mu      sync.Mutex
	stopped bool
	lanes   map[laneKey]*lane
	writers sync.WaitGroup
}

// New creates a publisher writing through controller. Zero settings take the
// values of pub.DefaultPublishSettings.
func New(controller pub.Controller, settings pub.PublishSettings, opts ...Option) (*Publisher, error) {
	p := Publisher{
		controller:  controller,
		settings:    withDefaults(settings),
		logger:      zap.NewNop(),
		insertLimit: defaultInsertConcurrency,
		lanes:       make(map[laneKey]*lane),
	}
	for _, opt := range opts {
		opt(&p)
	}
	p.logger = p.logger.Named("couchbase-publisher")

	if err := validator.Validate("publisher", p.controller); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}

	return &p, nil
}

// NewFactory returns a pub.PublisherFactory building publishers over controller.
func NewFactory(controller pub.Controller, opts ...Option) pub.PublisherFactory {
	return func(_ context.Context, settings pub.PublishSettings) (pub.Publisher, error) {
		return New(controller, settings, opts...)
	}
}

func withDefaults(s pub.PublishSettings) pub.PublishSettings {
	d := pub.DefaultPublishSettings()
	if s.CountThreshold <= 0 {
		s.CountThreshold = d.CountThreshold
	}
	if s.ByteThreshold <= 0 {
		s.ByteThreshold = d.ByteThreshold
	}
	if s.DelayThreshold < 0 {
		s.DelayThreshold = d.DelayThreshold
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 1
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = d.RetryDelay
	}
	return s
}

// Publish adds msg to the open bundle of its topic shard. The shard is taken
// from the partition attribute, 0 when absent.
func (p *Publisher) Publish(_ context.Context, msg *pub.Message) *pub.PublishResult {
	if msg == nil || msg.Topic == "" {
		return pub.FailedPublish(fmt.Errorf("%w: message without topic", pub.ErrInvalidArgument))
	}

	shard, err := shardOf(msg)
	if err != nil {
		return pub.FailedPublish(err)
	}

	result, resolve := pub.NewPublishResult()
	m := *msg
	m.Shard = shard

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		resolve("", ErrStopped)
		return result
	}

	key := laneKey{topic: m.Topic, shard: shard}
	l, ok := p.lanes[key]
	if !ok {
		l = &lane{key: key}
		p.lanes[key] = l
	}

	b := l.open
	if b == nil {
		b = &bundle{}
		b.timer = time.AfterFunc(p.settings.DelayThreshold, func() { p.expire(l, b) })
		l.open = b
	}

	b.items = append(b.items, item{msg: m, resolve: resolve})
	b.bytes += m.Size()

	if len(b.items) >= p.settings.CountThreshold || b.bytes >= p.settings.ByteThreshold {
		p.sealLocked(l)
	}

	return result
}

func shardOf(msg *pub.Message) (int, error) {
	v, ok := msg.Attributes[pub.AttrPartition]
	if !ok {
		return 0, nil
	}

	shard, err := strconv.Atoi(v)
	if err != nil || shard < 0 {
		return 0, fmt.Errorf("%w: invalid partition attribute %q", pub.ErrInvalidArgument, v)
	}

	return shard, nil
}

func (p *Publisher) expire(l *lane, b *bundle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.open == b {
		p.sealLocked(l)
	}
}

// sealLocked closes the open bundle of l and makes sure a writer drains the lane.
func (p *Publisher) sealLocked(l *lane) {
	b := l.open
	if b == nil {
		return
	}
	l.open = nil
	b.timer.Stop()

	l.sealed = append(l.sealed, b)
	if l.writing {
		return
	}

	l.writing = true
	p.writers.Add(1)
	go p.drain(l)
}

func (p *Publisher) drain(l *lane) {
	defer p.writers.Done()

	for {
		p.mu.Lock()
		if len(l.sealed) == 0 {
			l.writing = false
			p.mu.Unlock()
			return
		}
		b := l.sealed[0]
		l.sealed = l.sealed[1:]
		p.mu.Unlock()

		p.write(l.key, b)
	}
}

func (p *Publisher) write(key laneKey, b *bundle) {
	ctx, cancel := context.WithTimeout(context.Background(), p.settings.Timeout)
	defer cancel()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.StartSpan(ctx, "publisher.write_bundle")
		span.SetAttributes(p.tracer.BundleAttributes(key.topic, key.shard, len(b.items))...)
		defer span.End()
	}

	start := time.Now()
	pl := newPlacement(len(b.items))
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(p.settings.MaxAttempts)),
		retry.Delay(p.settings.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(pub.IsRetriable),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying bundle write",
				zap.String("topic", key.topic),
				zap.Int("shard", key.shard),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return p.append(ctx, key, b.items, pl)
	})

	if p.registry != nil {
		p.registry.RecordBundle(key.topic, key.shard, len(b.items), time.Since(start), err)
	}
	if err != nil {
		if p.tracer != nil {
			p.tracer.RecordError(ctx, err)
		}
		p.logger.Error("failed to write bundle",
			zap.String("topic", key.topic),
			zap.Int("shard", key.shard),
			zap.Int("messages", len(b.items)),
			zap.Error(err),
		)
		for _, it := range b.items {
			it.resolve("", err)
		}
		return
	}
	if p.tracer != nil {
		p.tracer.SetStatus(ctx, codes.Ok, "")
	}

	p.logger.Debug("wrote bundle",
		zap.String("topic", key.topic),
		zap.Int("shard", key.shard),
		zap.Int("messages", len(b.items)),
	)
	for i, it := range b.items {
		it.resolve(pl.ids[i], nil)
	}
}

// placement records where the items of one bundle were stored. It outlives a
// single write attempt so a retry keeps what an earlier attempt stored.
type placement struct {
	ids    []string
	placed []bool
	top    uint64
}

func newPlacement(n int) *placement {
	return &placement{ids: make([]string, n), placed: make([]bool, n)}
}

func (pl *placement) set(i int, id string, offset uint64) {
	pl.ids[i] = id
	pl.placed[i] = true
	pl.top = max(pl.top, offset+1)
}

// append stores every unplaced item at the next free offsets of the shard and
// commits the offset past the highest one used. An offset already taken by a
// document this bundle did not write is skipped, so an item is only reported
// stored under its own ID.
func (p *Publisher) append(ctx context.Context, key laneKey, items []item, pl *placement) error {
	offset, err := p.controller.GetOffset(ctx, key.topic, key.shard)
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		offset = 0
	default:
		return fmt.Errorf("failed to get offset for topic %s shard %d: %w", key.topic, key.shard, err)
	}

	now := time.Now().UTC()
	var (
		mu       sync.Mutex
		taken    []int
		unplaced int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.insertLimit)
	for i, it := range items {
		if pl.placed[i] {
			continue
		}
		m := it.msg
		m.Offset = offset + uint64(unplaced)
		m.ID = pub.MessageKey(key.topic, key.shard, m.Offset)
		m.PublishTime = &now
		unplaced++

		g.Go(func() error {
			err := p.controller.InsertMessage(gctx, m)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				pl.set(i, m.ID, m.Offset)
			case errors.Is(err, gocb.ErrDocumentExists):
				taken = append(taken, i)
			default:
				return fmt.Errorf("failed to insert message with ID %s: %w", m.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slices.Sort(taken)
	next := offset + uint64(unplaced)
	for _, i := range taken {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			m := items[i].msg
			m.Offset = next
			m.ID = pub.MessageKey(key.topic, key.shard, next)
			m.PublishTime = &now
			next++

			err := p.controller.InsertMessage(ctx, m)
			if errors.Is(err, gocb.ErrDocumentExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert message with ID %s: %w", m.ID, err)
			}
			pl.set(i, m.ID, m.Offset)
			break
		}
	}

	if err := p.controller.CommitOffset(key.topic, key.shard, pl.top); err != nil {
		return fmt.Errorf("failed to commit offset for topic %s shard %d: %w", key.topic, key.shard, err)
	}

	return nil
}

// Stop seals every open bundle and waits until all of them are written.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, l := range p.lanes {
			p.sealLocked(l)
		}
		p.logger.Info("stopping publisher", zap.Int("lanes", len(p.lanes)))
	}
	p.mu.Unlock()

	p.writers.Wait()
}

var _ pub.Publisher = (*Publisher)(nil)
