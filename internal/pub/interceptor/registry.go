package interceptor

import (
	"fmt"
	"strings"

	"pubcompat/internal/pub"
)

// NameTraceContext is the built-in interceptor propagating trace context.
const NameTraceContext = "trace-context"

// Constructor builds an interceptor from producer properties.
type Constructor func(props map[string]any) (Interceptor, error)

// Registry maps the identifiers listed in interceptor.classes to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in interceptors.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(NameTraceContext, func(map[string]any) (Interceptor, error) {
		return NewTraceContext(nil), nil
	})
	return r
}

// Register binds name to c, replacing any earlier binding.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[strings.TrimSpace(name)] = c
}

// Build instantiates names in declaration order. An unknown name fails the
// whole build; interceptors built before the failure are closed.
func (r *Registry) Build(names []string, props map[string]any) ([]Interceptor, error) {
	built := make([]Interceptor, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		c, ok := r.constructors[name]
		if !ok {
			closeAll(built)
			return nil, fmt.Errorf("%w: unknown interceptor %q", pub.ErrConfig, name)
		}

		in, err := c(props)
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("%w: interceptor %q: %w", pub.ErrConfig, name, err)
		}
		built = append(built, in)
	}

	return built, nil
}

func closeAll(built []Interceptor) {
	for _, in := range built {
		_ = in.Close()
	}
}
