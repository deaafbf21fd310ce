package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	var nilPtr *int
	var nilFunc func()
	n := 1

	tests := []struct {
		name    string
		deps    []any
		wantErr bool
	}{
		{name: "all set", deps: []any{&n, "scope", 10, func() {}}},
		{name: "nil interface", deps: []any{nil}, wantErr: true},
		{name: "nil pointer", deps: []any{nilPtr}, wantErr: true},
		{name: "nil func", deps: []any{nilFunc}, wantErr: true},
		{name: "empty string", deps: []any{"ok", ""}, wantErr: true},
		{name: "zero int", deps: []any{0}, wantErr: true},
		{name: "no deps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("component", tt.deps...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "component")
				return
			}
			assert.NoError(t, err)
		})
	}
}
