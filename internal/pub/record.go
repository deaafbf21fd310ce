package pub

import (
	"context"
	"time"
)

// Record is the unit of work a caller sends: a value, an optional key and the
// topic it is addressed to. Interceptors replace records, they never mutate them.
type Record struct {
	Topic     string
	Key       any
	Value     any
	Partition *int
	Headers   map[string]string
	Timestamp time.Time
}

// NewRecord returns a keyless record for topic.
func NewRecord(topic string, value any) *Record {
	return &Record{Topic: topic, Value: value}
}

// NewKeyedRecord returns a record carrying key.
func NewKeyedRecord(topic string, key, value any) *Record {
	return &Record{Topic: topic, Key: key, Value: value}
}

// WithValue returns a copy of r carrying value.
func (r Record) WithValue(value any) Record {
	r.Value = value
	return r
}

// WithHeader returns a copy of r with header k set to v. The header map of r is
// left untouched.
func (r Record) WithHeader(k, v string) Record {
	headers := make(map[string]string, len(r.Headers)+1)
	for hk, hv := range r.Headers {
		headers[hk] = hv
	}
	headers[k] = v
	r.Headers = headers
	return r
}

// RecordMetadata describes a send the transport acknowledged.
type RecordMetadata struct {
	Topic               string
	Partition           int
	SerializedKeySize   int
	SerializedValueSize int
	// Timestamp is the record timestamp in unix milliseconds.
	Timestamp int64
	// MessageID is the identifier the transport assigned to the message.
	MessageID string
}

// Callback receives the outcome of one send. Exactly one of md and err is non-nil.
type Callback func(md *RecordMetadata, err error)

// SendResult is the completion handle returned by a send.
type SendResult struct {
	ready chan struct{}
	md    *RecordMetadata
	err   error
}

// NewSendResult returns an unresolved result and the function that resolves it.
// The resolve function must be called exactly once.
func NewSendResult() (*SendResult, func(*RecordMetadata, error)) {
	r := &SendResult{ready: make(chan struct{})}
	return r, func(md *RecordMetadata, err error) {
		r.md, r.err = md, err
		close(r.ready)
	}
}

// Ready is closed once the send completed.
func (r *SendResult) Ready() <-chan struct{} {
	return r.ready
}

// Get blocks until the send completed or ctx is done.
func (r *SendResult) Get(ctx context.Context) (*RecordMetadata, error) {
	select {
	case <-r.ready:
		return r.md, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
