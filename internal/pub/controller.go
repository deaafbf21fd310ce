package pub

import "context"

// Controller is the storage layer behind the couchbase transport. It keeps the
// per-shard write offsets and message log that publishers append to, the
// subscription cursors and leases consumers read with, and the topic registry.
type Controller interface {
	TopicAdmin

	// GetCursor returns how far sub has read topic shard; 0 for a new subscription.
	GetCursor(ctx context.Context, topic, sub string, shard int) (uint64, error)

	// CommitCursor advances the cursor of sub. A lower offset is ignored.
	CommitCursor(topic, sub string, shard int, offset uint64) error

	// GetOffset returns the next write position of a topic shard.
	GetOffset(ctx context.Context, topic string, shard int) (uint64, error)

	// CommitOffset advances the write position of a topic shard. A lower offset is ignored.
	CommitOffset(topic string, shard int, currentOffset uint64) error

	// InsertLease leases msgID to sub. It fails if another lease is live.
	InsertLease(ctx context.Context, sub string, msgID string, offset uint64) error

	// DeleteLease releases a lease; releasing a missing lease is not an error.
	DeleteLease(ctx context.Context, sub string, msgID string) error

	// InsertMessage appends msg to the message log. It fails if msg.ID exists.
	InsertMessage(ctx context.Context, msg Message) error

	// LoadMessages returns up to limit messages of a topic shard from fromOffset on,
	// in offset order.
	LoadMessages(ctx context.Context, topic string, shard int, fromOffset uint64, limit int) ([]Message, error)
}
