// Package memory is an in-process pub.Controller. It keeps the same document
// semantics as the couchbase controller, including its not-found and
// already-exists errors, and backs local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"

	"pubcompat/internal/pub"
)

// LeaseTimeout is how long a lease stays live.
const LeaseTimeout = time.Minute

// Controller implements pub.Controller in memory.
type Controller struct {
	mu       sync.Mutex
	now      func() time.Time
	topics   map[string]pub.Topic
	offsets  map[string]uint64
	cursors  map[string]uint64
	leases   map[string]time.Time
	messages map[string]pub.Message
	faults   map[string][]error
}

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{
		now:      time.Now,
		topics:   make(map[string]pub.Topic),
		offsets:  make(map[string]uint64),
		cursors:  make(map[string]uint64),
		leases:   make(map[string]time.Time),
		messages: make(map[string]pub.Message),
		faults:   make(map[string][]error),
	}
}

// Operation names accepted by Fail.
const (
	OpGetOffset     = "get_offset"
	OpCommitOffset  = "commit_offset"
	OpInsertMessage = "insert_message"
	OpLoadMessages  = "load_messages"
	OpCommitCursor  = "commit_cursor"
)

// Fail makes the next calls of op return errs, one per call.
func (c *Controller) Fail(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = append(c.faults[op], errs...)
}

func (c *Controller) faultLocked(op string) error {
	errs := c.faults[op]
	if len(errs) == 0 {
		return nil
	}
	c.faults[op] = errs[1:]
	return errs[0]
}

func (c *Controller) TopicExists(_ context.Context, topic string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.topics[pub.TopicKey(topic)]
	return ok, nil
}

func (c *Controller) CreateTopic(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pub.TopicKey(topic)
	if _, ok := c.topics[key]; !ok {
		c.topics[key] = pub.Topic{ID: key, Name: topic, Created: c.now().UTC()}
	}
	return nil
}

func (c *Controller) GetCursor(_ context.Context, topic, sub string, shard int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cursors[pub.CursorKey(topic, sub, shard)], nil
}

func (c *Controller) CommitCursor(topic, sub string, shard int, offset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.faultLocked(OpCommitCursor); err != nil {
		return err
	}

	key := pub.CursorKey(topic, sub, shard)
	if offset > c.cursors[key] {
		c.cursors[key] = offset
	}
	return nil
}

func (c *Controller) GetOffset(_ context.Context, topic string, shard int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.faultLocked(OpGetOffset); err != nil {
		return 0, err
	}

	key := pub.OffsetKey(topic, shard)
	n, ok := c.offsets[key]
	if !ok {
		return 0, fmt.Errorf("failed to get offset: %w", gocb.ErrDocumentNotFound)
	}
	return n, nil
}

func (c *Controller) CommitOffset(topic string, shard int, currentOffset uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.faultLocked(OpCommitOffset); err != nil {
		return err
	}

	key := pub.OffsetKey(topic, shard)
	if n, ok := c.offsets[key]; !ok || currentOffset > n {
		c.offsets[key] = currentOffset
	}
	return nil
}

func (c *Controller) InsertLease(_ context.Context, sub string, msgID string, _ uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pub.LeaseKey(sub, msgID)
	now := c.now()
	if expires, ok := c.leases[key]; ok && now.Before(expires) {
		return fmt.Errorf("failed to insert lease: %w", gocb.ErrDocumentExists)
	}
	c.leases[key] = now.Add(LeaseTimeout)
	return nil
}

func (c *Controller) DeleteLease(_ context.Context, sub string, msgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.leases, pub.LeaseKey(sub, msgID))
	return nil
}

func (c *Controller) InsertMessage(_ context.Context, msg pub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.faultLocked(OpInsertMessage); err != nil {
		return err
	}
	if _, ok := c.messages[msg.ID]; ok {
		return fmt.Errorf("failed to insert message: %w", gocb.ErrDocumentExists)
	}
	c.messages[msg.ID] = msg
	return nil
}

func (c *Controller) LoadMessages(_ context.Context, topic string, shard int, fromOffset uint64, limit int) ([]pub.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.faultLocked(OpLoadMessages); err != nil {
		return nil, err
	}

	var out []pub.Message
	for _, m := range c.messages {
		if m.Topic == topic && m.Shard == shard && m.Offset >= fromOffset {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Messages returns every stored message of a topic shard in offset order.
func (c *Controller) Messages(topic string, shard int) []pub.Message {
	msgs, _ := c.LoadMessages(context.Background(), topic, shard, 0, 0)
	return msgs
}

var _ pub.Controller = (*Controller)(nil)
