package producer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubcompat/internal/pub"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, AcksAll, cfg.Acks)
	assert.True(t, strings.HasPrefix(cfg.ClientID, "producer-"))
	assert.Empty(t, cfg.Interceptors)
	assert.Equal(t, pub.DefaultPublishSettings(), cfg.Publish)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		PropAcks:               "all",
		PropProject:            "demo",
		PropClientID:           "orders-service",
		PropInterceptorClasses: " a, b ,,c",
		PropTopics:             []any{"orders"},
		PropAutoCreateTopics:   true,
		PropBatchSize:          "10",
		PropBatchBytes:         4096,
		PropLingerMs:           float64(5),
		PropRequestTimeoutMs:   30000,
		PropRetries:            0,
		PropRetryBackoffMs:     "250",
	})
	require.NoError(t, err)

	assert.Equal(t, AcksAll, cfg.Acks)
	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, "demo", cfg.Publish.Project)
	assert.Equal(t, "orders-service", cfg.ClientID)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Interceptors)
	assert.Equal(t, []string{"orders"}, cfg.Topics)
	assert.True(t, cfg.AutoCreateTopics)
	assert.Equal(t, pub.PublishSettings{
		Project:        "demo",
		CountThreshold: 10,
		ByteThreshold:  4096,
		DelayThreshold: 5 * time.Millisecond,
		Timeout:        30 * time.Second,
		MaxAttempts:    1,
		RetryDelay:     250 * time.Millisecond,
	}, cfg.Publish)
}

func TestParseConfigAcks(t *testing.T) {
	for in, want := range map[any]int{"0": AcksNone, 1: AcksLeader, "-1": AcksAll, "ALL": AcksAll} {
		cfg, err := ParseConfig(map[string]any{PropAcks: in})
		require.NoError(t, err, in)
		assert.Equal(t, want, cfg.Acks, in)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{name: "acks", props: map[string]any{PropAcks: "2"}},
		{name: "client id type", props: map[string]any{PropClientID: 7}},
		{name: "interceptor list type", props: map[string]any{PropInterceptorClasses: 7}},
		{name: "interceptor entry type", props: map[string]any{PropInterceptorClasses: []any{"a", 1}}},
		{name: "batch size zero", props: map[string]any{PropBatchSize: 0}},
		{name: "batch size text", props: map[string]any{PropBatchSize: "many"}},
		{name: "negative retries", props: map[string]any{PropRetries: -1}},
		{name: "negative linger", props: map[string]any{PropLingerMs: -5}},
		{name: "fractional linger", props: map[string]any{PropLingerMs: 1.5}},
		{name: "auto create", props: map[string]any{PropAutoCreateTopics: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.props)
			require.ErrorIs(t, err, pub.ErrConfig)
		})
	}
}

func TestLoadProperties(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		props, err := LoadProperties([]byte(`
project: demo
acks: all
value.serializer: json
interceptor.classes:
  - trace-context
linger.ms: 5
`), "yaml")
		require.NoError(t, err)

		cfg, err := ParseConfig(props)
		require.NoError(t, err)
		assert.Equal(t, "demo", cfg.Project)
		assert.Equal(t, "json", cfg.ValueSerializer)
		assert.Equal(t, []string{"trace-context"}, cfg.Interceptors)
		assert.Equal(t, 5*time.Millisecond, cfg.Publish.DelayThreshold)
	})

	t.Run("json", func(t *testing.T) {
		props, err := LoadProperties([]byte(`{"retries": 4, "batch.size": 20, "key.serializer": "string"}`), "json")
		require.NoError(t, err)

		cfg, err := ParseConfig(props)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Publish.MaxAttempts)
		assert.Equal(t, 20, cfg.Publish.CountThreshold)
		assert.Equal(t, "string", cfg.KeySerializer)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := LoadProperties([]byte(`a=b`), "properties")
		require.ErrorIs(t, err, pub.ErrConfig)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := LoadProperties([]byte(`{`), "json")
		require.ErrorIs(t, err, pub.ErrConfig)
	})
}
