package producer

import (
	"time"

	"go.uber.org/zap"

	"pubcompat/internal/pub"
	"pubcompat/internal/pub/interceptor"
	"pubcompat/internal/pub/serialization"
)

// Option customizes a Producer.
type Option func(*options)

type options struct {
	logger          *zap.Logger
	serializers     *serialization.Registry
	interceptors    *interceptor.Registry
	keySerializer   serialization.Serializer
	valueSerializer serialization.Serializer
	topicAdmin      pub.TopicAdmin
	now             func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger:       zap.NewNop(),
		serializers:  serialization.NewRegistry(),
		interceptors: interceptor.NewRegistry(),
		now:          time.Now,
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSerializerRegistry resolves key.serializer and value.serializer against r.
func WithSerializerRegistry(r *serialization.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.serializers = r
		}
	}
}

// WithInterceptorRegistry resolves interceptor.classes against r.
func WithInterceptorRegistry(r *interceptor.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.interceptors = r
		}
	}
}

// WithKeySerializer takes precedence over key.serializer.
func WithKeySerializer(s serialization.Serializer) Option {
	return func(o *options) {
		o.keySerializer = s
	}
}

// WithValueSerializer takes precedence over value.serializer.
func WithValueSerializer(s serialization.Serializer) Option {
	return func(o *options) {
		o.valueSerializer = s
	}
}

// WithTopicAdmin makes the producer check, and with auto.create.topics create,
// the configured topics on construction.
func WithTopicAdmin(admin pub.TopicAdmin) Option {
	return func(o *options) {
		o.topicAdmin = admin
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
