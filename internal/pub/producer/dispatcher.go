package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/interceptor"
)

// pendingSend is a send accepted while open whose completion has not been
// delivered yet.
type pendingSend struct {
	id        uint64
	record    pub.Record
	keySize   int
	valueSize int
	timestamp int64
	callback  pub.Callback
	resolve   func(*pub.RecordMetadata, error)
	done      chan struct{}
}

// dispatcher owns the transport and the in-flight set. The closed flag and the
// in-flight set share one mutex so a send is either registered before close
// snapshots the set or rejected.
type dispatcher struct {
	publisher pub.Publisher
	chain     *interceptor.Chain
	logger    *zap.Logger

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]*pendingSend
}

func newDispatcher(publisher pub.Publisher, chain *interceptor.Chain, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		publisher: publisher,
		chain:     chain,
		logger:    logger,
		pending:   make(map[uint64]*pendingSend),
	}
}

// enqueue registers the send and issues exactly one publish for it.
func (d *dispatcher) enqueue(ctx context.Context, r pub.Record, msg *pub.Message, keySize, valueSize int, timestamp int64, cb pub.Callback) (*pub.SendResult, error) {
	result, resolve := pub.NewSendResult()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, pub.ErrProducerClosed
	}
	d.nextID++
	ps := &pendingSend{
		id:        d.nextID,
		record:    r,
		keySize:   keySize,
		valueSize: valueSize,
		timestamp: timestamp,
		callback:  cb,
		resolve:   resolve,
		done:      make(chan struct{}),
	}
	d.pending[ps.id] = ps
	d.mu.Unlock()

	pr := d.publish(context.WithoutCancel(ctx), msg)
	go d.complete(ps, pr)

	return result, nil
}

func (d *dispatcher) publish(ctx context.Context, msg *pub.Message) (pr *pub.PublishResult) {
	defer func() {
		if p := recover(); p != nil {
			pr = pub.FailedPublish(fmt.Errorf("transport panicked: %v", p))
		}
	}()

	pr = d.publisher.Publish(ctx, msg)
	if pr == nil {
		return pub.FailedPublish(errors.New("transport returned no publish result"))
	}

	return pr
}

// complete delivers the outcome of ps once the transport resolved it:
// interceptors first, then the caller callback, then the returned result.
func (d *dispatcher) complete(ps *pendingSend, pr *pub.PublishResult) {
	<-pr.Ready()
	id, err := pr.Get(context.Background())

	var md *pub.RecordMetadata
	if err != nil {
		err = fmt.Errorf("failed to publish to topic %s: %w", ps.record.Topic, err)
	} else {
		md = &pub.RecordMetadata{
			Topic:               ps.record.Topic,
			SerializedKeySize:   ps.keySize,
			SerializedValueSize: ps.valueSize,
			Timestamp:           ps.timestamp,
			MessageID:           id,
		}
		if ps.record.Partition != nil {
			md.Partition = *ps.record.Partition
		}
	}

	d.chain.OnAcknowledgement(md, err)
	d.invoke(ps, md, err)
	ps.resolve(md, err)

	// The send leaves the in-flight set only once its completion is delivered.
	d.mu.Lock()
	delete(d.pending, ps.id)
	d.mu.Unlock()
	close(ps.done)
}

func (d *dispatcher) invoke(ps *pendingSend, md *pub.RecordMetadata, err error) {
	if ps.callback == nil {
		if err != nil {
			d.logger.Debug("send failed without callback", zap.String("topic", ps.record.Topic), zap.Error(err))
		}
		return
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("send callback panicked",
				zap.String("topic", ps.record.Topic),
				zap.Uint64("send", ps.id),
				zap.Any("panic", p),
			)
		}
	}()

	ps.callback(md, err)
}

func (d *dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// len returns the number of sends in flight.
func (d *dispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// snapshot returns the sends in flight right now.
func (d *dispatcher) snapshot() []*pendingSend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *dispatcher) snapshotLocked() []*pendingSend {
	out := make([]*pendingSend, 0, len(d.pending))
	for _, ps := range d.pending {
		out = append(out, ps)
	}
	return out
}

// shutdown marks the dispatcher closed and returns what is still in flight.
// first is false when it was already closed.
func (d *dispatcher) shutdown() (pending []*pendingSend, first bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}
	d.closed = true

	return d.snapshotLocked(), true
}

// await waits for every send in pending to complete. It returns false if ctx
// ended first.
func (d *dispatcher) await(ctx context.Context, pending []*pendingSend) bool {
	for _, ps := range pending {
		select {
		case <-ps.done:
			continue
		default:
		}

		select {
		case <-ps.done:
		case <-ctx.Done():
			return false
		}
	}

	return true
}

// awaitAllPending waits for the whole in-flight set as it stands now.
func (d *dispatcher) awaitAllPending(ctx context.Context) bool {
	return d.await(ctx, d.snapshot())
}
