package pub

import (
	"context"
	"time"
)

// Publisher is the asynchronous publish transport the producer dispatches to.
// Publish must not block on network I/O; its result resolves once the transport
// acknowledged or rejected the message.
type Publisher interface {
	// Publish hands msg to the transport and returns its pending result.
	Publish(ctx context.Context, msg *Message) *PublishResult

	// Stop flushes everything buffered, waits for outstanding publishes and
	// releases the transport. Publish must not be called after Stop.
	Stop()
}

// PublisherFactory builds a transport from the batching and retry settings
// carried in producer properties.
type PublisherFactory func(ctx context.Context, settings PublishSettings) (Publisher, error)

// TopicAdmin is consulted when a producer is constructed to make sure the
// topics it was configured with exist.
type TopicAdmin interface {
	// TopicExists reports whether topic is known to the transport.
	TopicExists(ctx context.Context, topic string) (bool, error)

	// CreateTopic creates topic. Creating an existing topic is not an error.
	CreateTopic(ctx context.Context, topic string) error
}

// ProjectScoper is implemented by topic admins whose topics live in a project,
// so the producer's project property can select it.
type ProjectScoper interface {
	InProject(project string) TopicAdmin
}

// PublishSettings are passed through to the transport untouched by the producer.
type PublishSettings struct {
	// Project scopes topic names for transports that have projects. Empty keeps
	// the transport's own.
	Project string `env:"PUBLISH_PROJECT"`
	// CountThreshold publishes a bundle once it holds this many messages.
	CountThreshold int `env:"PUBLISH_COUNT_THRESHOLD" envDefault:"100"`
	// ByteThreshold publishes a bundle once its payload reaches this size.
	ByteThreshold int `env:"PUBLISH_BYTE_THRESHOLD" envDefault:"1000000"`
	// DelayThreshold publishes a non-empty bundle after this long.
	DelayThreshold time.Duration `env:"PUBLISH_DELAY_THRESHOLD" envDefault:"10ms"`
	// Timeout bounds a single bundle write including retries.
	Timeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"60s"`
	// MaxAttempts is the number of tries for a bundle write.
	MaxAttempts int `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"3"`
	// RetryDelay is the initial backoff between tries.
	RetryDelay time.Duration `env:"PUBLISH_RETRY_DELAY" envDefault:"100ms"`
}

// DefaultPublishSettings mirrors the env defaults above.
func DefaultPublishSettings() PublishSettings {
	return PublishSettings{
		CountThreshold: 100,
		ByteThreshold:  1_000_000,
		DelayThreshold: 10 * time.Millisecond,
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     100 * time.Millisecond,
	}
}

// PublishResult is the future of one Publish call.
type PublishResult struct {
	ready chan struct{}
	id    string
	err   error
}

// NewPublishResult returns an unresolved result and its resolve function, which
// must be called exactly once.
func NewPublishResult() (*PublishResult, func(id string, err error)) {
	r := &PublishResult{ready: make(chan struct{})}
	return r, func(id string, err error) {
		r.id, r.err = id, err
		close(r.ready)
	}
}

// FailedPublish returns a result already resolved with err.
func FailedPublish(err error) *PublishResult {
	r, resolve := NewPublishResult()
	resolve("", err)
	return r
}

// Ready is closed once the publish resolved.
func (r *PublishResult) Ready() <-chan struct{} {
	return r.ready
}

// Get blocks until the publish resolved or ctx is done and returns the
// transport-assigned message id.
func (r *PublishResult) Get(ctx context.Context) (string, error) {
	select {
	case <-r.ready:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
