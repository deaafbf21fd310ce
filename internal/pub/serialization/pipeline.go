package serialization

import (
	"fmt"

	"pubcompat/internal/pub"
)

// Pipeline applies the key and value serializers a producer was built with.
type Pipeline struct {
	Key   Serializer
	Value Serializer
}

// NewPipeline returns a pipeline; nil serializers fall back to Bytes.
func NewPipeline(key, value Serializer) *Pipeline {
	if key == nil {
		key = Bytes{}
	}
	if value == nil {
		value = Bytes{}
	}
	return &Pipeline{Key: key, Value: value}
}

// Serialize returns the wire bytes of key and value. An absent key yields an
// empty, non-nil slice. A nil value, or one that serializes to nothing, is an
// invalid argument since the transport rejects messages without data.
func (p *Pipeline) Serialize(topic string, key, value any) ([]byte, []byte, error) {
	if value == nil {
		return nil, nil, fmt.Errorf("%w: record value is nil", pub.ErrInvalidArgument)
	}

	keyBytes := []byte{}
	if key != nil {
		b, err := p.Key.Serialize(topic, key)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: key: %w", pub.ErrSerialization, err)
		}
		if b != nil {
			keyBytes = b
		}
	}

	valueBytes, err := p.Value.Serialize(topic, value)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: value: %w", pub.ErrSerialization, err)
	}
	if len(valueBytes) == 0 {
		return nil, nil, fmt.Errorf("%w: record value serialized to an empty payload", pub.ErrInvalidArgument)
	}

	return keyBytes, valueBytes, nil
}
