// Package serialization turns record keys and values into wire bytes.
package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
)

// Serializer converts data addressed to topic into bytes.
type Serializer interface {
	Serialize(topic string, data any) ([]byte, error)
}

// Func adapts a plain function to Serializer.
type Func func(topic string, data any) ([]byte, error)

// Serialize implements Serializer.
func (f Func) Serialize(topic string, data any) ([]byte, error) {
	return f(topic, data)
}

// String encodes strings as UTF-8.
type String struct{}

func (String) Serialize(_ string, data any) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return nil, fmt.Errorf("string serializer: unsupported type %T", data)
	}
}

// Bytes passes byte slices and strings through unchanged.
type Bytes struct{}

func (Bytes) Serialize(_ string, data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("bytes serializer: unsupported type %T", data)
	}
}

// Integer encodes 32-bit integers as 4 big-endian bytes. Wider Go integers are
// accepted when they fit.
type Integer struct{}

func (Integer) Serialize(_ string, data any) ([]byte, error) {
	var n int64
	switch v := data.(type) {
	case int32:
		n = int64(v)
	case int16:
		n = int64(v)
	case int8:
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	default:
		return nil, fmt.Errorf("integer serializer: unsupported type %T", data)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("integer serializer: %d overflows int32", n)
	}

	return binary.BigEndian.AppendUint32(nil, uint32(int32(n))), nil
}

// Long encodes 64-bit integers as 8 big-endian bytes.
type Long struct{}

func (Long) Serialize(_ string, data any) ([]byte, error) {
	var n int64
	switch v := data.(type) {
	case int64:
		n = v
	case int32:
		n = int64(v)
	case int:
		n = int64(v)
	default:
		return nil, fmt.Errorf("long serializer: unsupported type %T", data)
	}

	return binary.BigEndian.AppendUint64(nil, uint64(n)), nil
}

// Double encodes floats as 8 big-endian IEEE-754 bytes.
type Double struct{}

func (Double) Serialize(_ string, data any) ([]byte, error) {
	switch v := data.(type) {
	case float64:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v)), nil
	case float32:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(float64(v))), nil
	default:
		return nil, fmt.Errorf("double serializer: unsupported type %T", data)
	}
}

// JSON encodes any value with encoding/json. Byte slices pass through.
type JSON struct{}

func (JSON) Serialize(_ string, data any) ([]byte, error) {
	if b, ok := data.([]byte); ok {
		return b, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("json serializer: %w", err)
	}

	return b, nil
}

// Protobuf encodes proto messages in binary wire format.
type Protobuf struct{}

func (Protobuf) Serialize(_ string, data any) ([]byte, error) {
	m, ok := data.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf serializer: %T is not a proto.Message", data)
	}

	b, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protobuf serializer: %w", err)
	}

	return b, nil
}
