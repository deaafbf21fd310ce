package pub

import (
	"context"
	"time"
)

// Producer defines the keyed-record producer API callers program against.
type Producer interface {
	// Send dispatches record asynchronously. cb, when non-nil, is invoked exactly
	// once with the outcome; the returned result resolves with the same outcome.
	Send(ctx context.Context, record *Record, cb Callback) (*SendResult, error)

	// Flush blocks until every send accepted before the call completed.
	Flush(ctx context.Context) error

	// Close waits for all pending sends and releases the transport.
	Close() error

	// CloseWithTimeout is Close bounded by timeout.
	CloseWithTimeout(timeout time.Duration) error
}
