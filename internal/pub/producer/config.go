package producer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"pubcompat/internal/pub"
)

// Recognized producer properties.
const (
	PropAcks               = "acks"
	PropProject            = "project"
	PropClientID           = "client.id"
	PropKeySerializer      = "key.serializer"
	PropValueSerializer    = "value.serializer"
	PropInterceptorClasses = "interceptor.classes"
	PropTopics             = "topics"
	PropAutoCreateTopics   = "auto.create.topics"

	// Transport settings, passed through to the publisher factory.
	PropBatchSize        = "batch.size"
	PropBatchBytes       = "batch.bytes"
	PropLingerMs         = "linger.ms"
	PropRequestTimeoutMs = "request.timeout.ms"
	PropRetries          = "retries"
	PropRetryBackoffMs   = "retry.backoff.ms"
)

// Acknowledgement levels accepted for acks. The managed transport always
// acknowledges a publish once it is durable, so the level is informational.
const (
	AcksNone   = 0
	AcksLeader = 1
	AcksAll    = -1
)

// Config is the parsed form of producer properties.
type Config struct {
	Acks             int
	Project          string
	ClientID         string
	KeySerializer    any
	ValueSerializer  any
	Interceptors     []string
	Topics           []string
	AutoCreateTopics bool
	Publish          pub.PublishSettings

	// Properties are the raw properties, handed to serializer and interceptor
	// constructors.
	Properties map[string]any
}

// ParseConfig validates props and fills in defaults.
func ParseConfig(props map[string]any) (Config, error) {
	cfg := Config{
		Acks:       AcksAll,
		Publish:    pub.DefaultPublishSettings(),
		Properties: props,
	}

	var err error
	if v, ok := props[PropAcks]; ok {
		if cfg.Acks, err = parseAcks(v); err != nil {
			return Config{}, err
		}
	}
	if cfg.Project, err = stringProp(props, PropProject); err != nil {
		return Config{}, err
	}
	cfg.Publish.Project = cfg.Project
	if cfg.ClientID, err = stringProp(props, PropClientID); err != nil {
		return Config{}, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "producer-" + uuid.NewString()
	}

	cfg.KeySerializer = props[PropKeySerializer]
	cfg.ValueSerializer = props[PropValueSerializer]

	if cfg.Interceptors, err = listProp(props, PropInterceptorClasses); err != nil {
		return Config{}, err
	}
	if cfg.Topics, err = listProp(props, PropTopics); err != nil {
		return Config{}, err
	}
	if v, ok := props[PropAutoCreateTopics]; ok {
		if cfg.AutoCreateTopics, err = toBool(PropAutoCreateTopics, v); err != nil {
			return Config{}, err
		}
	}

	if err := parsePublishSettings(props, &cfg.Publish); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadProperties reads flat producer properties from a YAML or JSON document.
func LoadProperties(data []byte, format string) (map[string]any, error) {
	k := koanf.New(".")

	var parser koanf.Parser
	switch strings.ToLower(format) {
	case "yaml", "yml":
		parser = yaml.Parser()
	case "json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: unsupported properties format %q", pub.ErrConfig, format)
	}

	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: failed to load properties: %w", pub.ErrConfig, err)
	}

	return k.All(), nil
}

func parsePublishSettings(props map[string]any, s *pub.PublishSettings) error {
	ints := []struct {
		key string
		dst *int
	}{
		{PropBatchSize, &s.CountThreshold},
		{PropBatchBytes, &s.ByteThreshold},
	}
	for _, p := range ints {
		v, ok := props[p.key]
		if !ok {
			continue
		}
		n, err := toInt(p.key, v)
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", pub.ErrConfig, p.key, n)
		}
		*p.dst = n
	}

	if v, ok := props[PropRetries]; ok {
		n, err := toInt(PropRetries, v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", pub.ErrConfig, PropRetries, n)
		}
		s.MaxAttempts = n + 1
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{PropLingerMs, &s.DelayThreshold},
		{PropRequestTimeoutMs, &s.Timeout},
		{PropRetryBackoffMs, &s.RetryDelay},
	}
	for _, p := range durations {
		v, ok := props[p.key]
		if !ok {
			continue
		}
		n, err := toInt(p.key, v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", pub.ErrConfig, p.key, n)
		}
		*p.dst = time.Duration(n) * time.Millisecond
	}

	return nil
}

func parseAcks(v any) (int, error) {
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	switch s {
	case "0":
		return AcksNone, nil
	case "1":
		return AcksLeader, nil
	case "-1", "all":
		return AcksAll, nil
	default:
		return 0, fmt.Errorf("%w: %s must be one of 0, 1, -1, all; got %q", pub.ErrConfig, PropAcks, s)
	}
}

func stringProp(props map[string]any, key string) (string, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", pub.ErrConfig, key, v)
	}

	return strings.TrimSpace(s), nil
}

// listProp accepts a comma separated string or a list of strings.
func listProp(props map[string]any, key string) ([]string, error) {
	v, ok := props[key]
	if !ok || v == nil {
		return nil, nil
	}

	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s entries must be strings, got %T", pub.ErrConfig, key, item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("%w: %s must be a list, got %T", pub.ErrConfig, key, v)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	return out, nil
}

func toInt(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case int32:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", pub.ErrConfig, key, t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer: %w", pub.ErrConfig, key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", pub.ErrConfig, key, v)
	}
}

func toBool(key string, v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean: %w", pub.ErrConfig, key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", pub.ErrConfig, key, v)
	}
}
