package producer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"pubcompat/internal/pub"
)

// fakePublisher records every message. With autoAck it resolves immediately,
// otherwise results stay pending until ack is called.
type fakePublisher struct {
	autoAck  bool
	failWith error

	mu       sync.Mutex
	messages []*pub.Message
	held     []func(error)
	stops    atomic.Int32
}

func (f *fakePublisher) Publish(_ context.Context, msg *pub.Message) *pub.PublishResult {
	r, resolve := pub.NewPublishResult()

	f.mu.Lock()
	f.messages = append(f.messages, msg)
	id := fmt.Sprintf("msg-%d", len(f.messages))
	if !f.autoAck {
		f.held = append(f.held, func(err error) {
			if err != nil {
				resolve("", err)
				return
			}
			resolve(id, nil)
		})
		f.mu.Unlock()
		return r
	}
	f.mu.Unlock()

	if f.failWith != nil {
		resolve("", f.failWith)
	} else {
		resolve(id, nil)
	}
	return r
}

func (f *fakePublisher) Stop() {
	f.stops.Add(1)
}

// ack resolves every held result with err.
func (f *fakePublisher) ack(err error) {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.mu.Unlock()

	for _, resolve := range held {
		resolve(err)
	}
}

func (f *fakePublisher) published() []*pub.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*pub.Message(nil), f.messages...)
}

func (f *fakePublisher) factory() pub.PublisherFactory {
	return func(context.Context, pub.PublishSettings) (pub.Publisher, error) {
		return f, nil
	}
}

type countingInterceptor struct {
	onSend func(pub.Record) (pub.Record, error)
	// ackGate, when set, holds every acknowledgement until it is closed.
	ackGate chan struct{}

	sends  atomic.Int32
	acks   atomic.Int32
	errs   atomic.Int32
	closes atomic.Int32
}

func (c *countingInterceptor) OnSend(_ context.Context, r pub.Record) (pub.Record, error) {
	c.sends.Add(1)
	if c.onSend != nil {
		return c.onSend(r)
	}
	return r, nil
}

func (c *countingInterceptor) OnAcknowledgement(_ *pub.RecordMetadata, err error) {
	if c.ackGate != nil {
		<-c.ackGate
	}
	c.acks.Add(1)
	if err != nil {
		c.errs.Add(1)
	}
}

func (c *countingInterceptor) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeAdmin struct {
	mu      sync.Mutex
	topics  map[string]bool
	created []string
}

func (a *fakeAdmin) TopicExists(_ context.Context, topic string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.topics[topic], nil
}

func (a *fakeAdmin) CreateTopic(_ context.Context, topic string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.topics == nil {
		a.topics = make(map[string]bool)
	}
	a.topics[topic] = true
	a.created = append(a.created, topic)
	return nil
}
