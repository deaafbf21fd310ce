// Package pub holds the shared types of the producer compatibility layer: the
// keyed records callers send, the wire messages handed to a publish transport,
// and the interfaces that connect the two.
package pub

import "errors"

var (
	// ErrInvalidArgument is returned synchronously for a nil record, a nil or
	// empty value, or a negative close timeout.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProducerClosed is returned by any send attempted after close began.
	// It is fatal to the call: retrying on the same producer cannot succeed.
	ErrProducerClosed = errors.New("producer is closed")

	// ErrSerialization wraps a key or value serializer failure.
	ErrSerialization = errors.New("serialization failed")

	// ErrConfig is returned when producer properties cannot be resolved.
	ErrConfig = errors.New("invalid producer configuration")

	// ErrInterceptor marks a failing interceptor hook. It is only ever logged.
	ErrInterceptor = errors.New("interceptor failed")

	// ErrTopicNotFound is returned by a transport or admin client for an unknown topic.
	ErrTopicNotFound = errors.New("topic not found")
)

// IsRetriable reports whether a send that failed with err may be retried on the
// same producer. Argument and lifecycle errors never are.
func IsRetriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrProducerClosed),
		errors.Is(err, ErrSerialization),
		errors.Is(err, ErrConfig):
		return false
	default:
		return true
	}
}
