package serialization

import (
	"fmt"
	"sort"
	"strings"

	"pubcompat/internal/pub"
)

// Names of the built-in serializers.
const (
	NameString   = "string"
	NameBytes    = "bytes"
	NameInteger  = "integer"
	NameLong     = "long"
	NameDouble   = "double"
	NameJSON     = "json"
	NameProtobuf = "protobuf"
)

// Constructor builds a serializer from producer properties.
type Constructor func(props map[string]any) (Serializer, error)

// Registry resolves configured serializer names. A registry belongs to the
// producer that resolves against it.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in serializers.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(NameString, static(String{}))
	r.Register(NameBytes, static(Bytes{}))
	r.Register(NameInteger, static(Integer{}))
	r.Register(NameLong, static(Long{}))
	r.Register(NameDouble, static(Double{}))
	r.Register(NameJSON, static(JSON{}))
	r.Register(NameProtobuf, static(Protobuf{}))
	return r
}

// Register binds name to c, replacing any earlier binding.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[strings.ToLower(strings.TrimSpace(name))] = c
}

// Resolve returns the serializer for a configuration entry: a Serializer
// instance is used as-is, a string is looked up by name, and nil selects fallback.
func (r *Registry) Resolve(entry any, props map[string]any, fallback Serializer) (Serializer, error) {
	switch v := entry.(type) {
	case nil:
		return fallback, nil
	case Serializer:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return fallback, nil
		}
		c, ok := r.constructors[strings.ToLower(strings.TrimSpace(v))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown serializer %q (known: %s)", pub.ErrConfig, v, strings.Join(r.names(), ", "))
		}
		s, err := c(props)
		if err != nil {
			return nil, fmt.Errorf("%w: serializer %q: %w", pub.ErrConfig, v, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: serializer entry of type %T", pub.ErrConfig, entry)
	}
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func static(s Serializer) Constructor {
	return func(map[string]any) (Serializer, error) {
		return s, nil
	}
}
