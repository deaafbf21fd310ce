package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"pubcompat/internal/couchbase"
	"pubcompat/internal/pub"
	"pubcompat/internal/validator"
)

const (
	leaseTimeout     = time.Minute
	messageRetention = 7 * 24 * time.Hour
)

// Controller implements pub.Controller on Couchbase collections. Offsets and
// cursors are advanced in distributed transactions.
type Controller struct {
	topics       *couchbase.Store[pub.Topic]
	cursors      *couchbase.Store[pub.Cursor]
	leases       *couchbase.Store[pub.Lease]
	messages     *couchbase.Store[pub.Message]
	offsets      *couchbase.Store[pub.Offset]
	transactions *couchbase.Transactions
	bucket string
	scope  string
}

// NewController creates a controller over the given stores. bucket and scope
// are needed to address the messages collection in queries.
func NewController(
	topics *couchbase.Store[pub.Topic],
	cursors *couchbase.Store[pub.Cursor],
	leases *couchbase.Store[pub.Lease],
	messages *couchbase.Store[pub.Message],
	offsets *couchbase.Store[pub.Offset],
	transactions *couchbase.Transactions,
	bucket, scope string,
) (*Controller, error) {
	s := Controller{
		topics:       topics,
		cursors:      cursors,
		leases:       leases,
		messages:     messages,
		offsets:      offsets,
		transactions: transactions,
		bucket:       bucket,
		scope:        scope,
	}

	if err := validator.Validate(
		"storage",
		s.topics,
		s.cursors,
		s.leases,
		s.messages,
		s.offsets,
		s.transactions,
		s.bucket,
		s.scope,
	); err != nil {
		return nil, fmt.Errorf("failed to validate storage dependencies: %w", err)
	}

	return &s, nil
}

// TopicExists implements pub.TopicAdmin.
func (c *Controller) TopicExists(ctx context.Context, topic string) (bool, error) {
	ok, err := c.topics.Exists(ctx, pub.TopicKey(topic))
	if err != nil {
		return false, fmt.Errorf("failed to check topic %s: %w", topic, err)
	}

	return ok, nil
}

// CreateTopic implements pub.TopicAdmin. A topic created concurrently by
// another producer counts as created.
func (c *Controller) CreateTopic(ctx context.Context, topic string) error {
	key := pub.TopicKey(topic)
	t := pub.Topic{ID: key, Name: topic, Created: time.Now().UTC()}

	if err := c.topics.Insert(ctx, key, t, 0); err != nil && !errors.Is(err, gocb.ErrDocumentExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	return nil
}

// GetCursor returns 0 for subscriptions without a cursor.
func (c *Controller) GetCursor(ctx context.Context, topic, sub string, shard int) (uint64, error) {
	key := pub.CursorKey(topic, sub, shard)

	cur, err := c.cursors.Get(ctx, key)
	switch {
	case err == nil:
		return cur.Offset, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		// Return default cursor for new subscriptions
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
}

// CommitCursor inserts or advances the cursor inside a transaction.
func (c *Controller) CommitCursor(topic, sub string, shard int, offset uint64) error {
	key := pub.CursorKey(topic, sub, shard)
	initial := pub.Cursor{ID: key, Topic: topic, Sub: sub, Shard: shard, Offset: offset}

	err := couchbase.Advance(c.transactions, c.cursors, key, initial, func(cur *pub.Cursor) bool {
		if offset <= cur.Offset {
			return false
		}
		cur.Offset = offset
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to commit cursor %s: %w", key, err)
	}

	return nil
}

// GetOffset fails with gocb.ErrDocumentNotFound for a shard never written.
func (c *Controller) GetOffset(ctx context.Context, topic string, shard int) (uint64, error) {
	offsetKey := pub.OffsetKey(topic, shard)
	offset, err := c.offsets.Get(ctx, offsetKey)
	if err != nil {
		return 0, fmt.Errorf("failed to get offset: %w", err)
	}

	return offset.N, nil
}

// CommitOffset inserts or advances the shard write position inside a
// transaction. Positions never move backwards.
func (c *Controller) CommitOffset(topic string, shard int, currentOffset uint64) error {
	key := pub.OffsetKey(topic, shard)

	err := couchbase.Advance(c.transactions, c.offsets, key, pub.Offset{ID: key, N: currentOffset}, func(o *pub.Offset) bool {
		if currentOffset <= o.N {
			return false
		}
		o.N = currentOffset
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to commit offset for topic %s shard %d: %w", topic, shard, err)
	}

	return nil
}

// InsertLease stores a lease document expiring with the lease. It fails with
// gocb.ErrDocumentExists while another lease on the message is live.
func (c *Controller) InsertLease(ctx context.Context, sub string, msgID string, offset uint64) error {
	key := pub.LeaseKey(sub, msgID)

	lease := pub.Lease{
		ID:        key,
		Offset:    offset,
		Sub:       sub,
		MessageID: msgID,
		Expires:   time.Now().UTC().Add(leaseTimeout),
	}

	if err := c.leases.Insert(ctx, key, lease, leaseTimeout); err != nil {
		return fmt.Errorf("failed to insert lease: %w", err)
	}

	return nil
}

// DeleteLease removes the lease document if present.
func (c *Controller) DeleteLease(ctx context.Context, sub string, msgID string) error {
	key := pub.LeaseKey(sub, msgID)

	if err := c.leases.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
	}

	return nil
}

// InsertMessage fails with gocb.ErrDocumentExists when msg.ID is taken, which
// lets a retried bundle write skip what an earlier attempt stored.
func (c *Controller) InsertMessage(ctx context.Context, msg pub.Message) error {
	if err := c.messages.Insert(ctx, msg.ID, msg, messageRetention); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// LoadMessages queries the messages collection in offset order.
func (c *Controller) LoadMessages(ctx context.Context, topic string, shard int, fromOffset uint64, limit int) ([]pub.Message, error) {
	query := fmt.Sprintf(
		"SELECT RAW m FROM `%s`.`%s`.`%s` m "+
			"WHERE m.`offset` >= $from AND m.topic = $topic AND m.shard = $shard "+
			"ORDER BY m.`offset` ASC LIMIT $limit",
		c.bucket,
		c.scope,
		c.messages.Name(),
	)

	messages, err := c.messages.Query(ctx, query, map[string]any{
		"from":  fromOffset,
		"topic": topic,
		"shard": shard,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return messages, nil
}

var _ pub.Controller = (*Controller)(nil)
