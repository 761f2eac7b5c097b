package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/gqlpool/errors"
)

//go:embed schema.json
var schemaJSON []byte

// durationFields lists the dotted paths holding durations. Files may give
// them as Go duration strings ("30s") or as nanoseconds.
var durationFields = []string{
	"shutdown_timeout",
	"http.timeout",
	"nats.timeout",
	"nats.reconnect_wait",
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	schema     *gojsonschema.Schema
}

// NewLoader creates a loader with validation enabled and the GQLPOOL
// environment prefix.
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "GQLPOOL",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables schema and semantic validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of the override variables.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies the defaults, each layer in order, then environment
// overrides, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		if cfg, err = mergeFromMap(cfg, raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "validate config")
		}
	}
	return cfg, nil
}

// loadRaw reads one layer into a map, checking it against the embedded
// JSON schema when validation is on.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if l.validation {
		if err := l.validateSchema(raw); err != nil {
			return nil, err
		}
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (l *Loader) validateSchema(raw map[string]any) error {
	if l.schema == nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if err != nil {
			return errors.WrapFatal(err, "Loader", "validateSchema", "compile config schema")
		}
		l.schema = schema
	}

	// Round trip through JSON so YAML scalars take their JSON types.
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; "))
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(raw map[string]any) error {
	for _, field := range durationFields {
		parts := strings.Split(field, ".")
		parent := raw
		for _, p := range parts[:len(parts)-1] {
			next, ok := parent[p].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		key := parts[len(parts)-1]
		s, ok := parent[key].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, field, err)
		}
		parent[key] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies PREFIX_* environment variables on top of the
// loaded layers.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	e := envReader{prefix: l.envPrefix}

	e.str("LISTEN", &cfg.Listen)
	e.int("LOOPBACK_CONNECTIONS", &cfg.LoopbackConnections)
	e.bool("BOOTSTRAP", &cfg.Bootstrap)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	e.str("DATABASE_DRIVER", &cfg.Database.Driver)
	e.str("DATABASE_DSN", &cfg.Database.DSN)
	e.str("DATABASE_NAME", &cfg.Database.Name)
	e.bool("DATABASE_CREATE", &cfg.Database.CreateDatabase)

	e.str("SCHEMA_FILE", &cfg.Schema.File)
	e.str("SCHEMA_FORMAT", &cfg.Schema.Format)

	e.bool("HTTP_ENABLED", &cfg.HTTP.Enabled)
	e.str("HTTP_ADDRESS", &cfg.HTTP.Address)

	e.bool("NATS_ENABLED", &cfg.NATS.Enabled)
	e.str("NATS_URL", &cfg.NATS.URL)
	e.str("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix)
	e.int("NATS_WORKERS", &cfg.NATS.Workers)
	e.str("NATS_USERNAME", &cfg.NATS.Username)
	e.str("NATS_PASSWORD", &cfg.NATS.Password)
	e.str("NATS_TOKEN", &cfg.NATS.Token)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	return e.err()
}
