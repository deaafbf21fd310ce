package pub

import "context"

// Consumer reads what publishers appended to a topic shard.
type Consumer interface {
	// Pull leases, handles and acknowledges the next batch for sub and returns
	// how many messages it handled.
	Pull(ctx context.Context, topic, sub string, shard int) (int, error)

	// Ack acknowledges that sub processed msg.
	Ack(ctx context.Context, sub string, msg Message) error
}

// MessageHandler processes one pulled message.
type MessageHandler func(ctx context.Context, msg Message) error
