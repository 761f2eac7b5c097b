package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/c360/gqlpool/errors"
)

// Schema source formats
const (
	SchemaFormatTypes = "types" // type Name { field: Type } declarations
	SchemaFormatSDL   = "sdl"   // GraphQL SDL
)

// Config represents the complete gateway configuration
type Config struct {
	// Listen is the TCP address of the gateway's frame socket.
	Listen              string        `json:"listen"`
	LoopbackConnections int           `json:"loopback_connections"`
	OutboundBuffer      int           `json:"outbound_buffer"`
	SubmitBuffer        int           `json:"submit_buffer"`
	Bootstrap           bool          `json:"bootstrap"`
	ShutdownTimeout     time.Duration `json:"shutdown_timeout"`

	Database DatabaseConfig `json:"database"`
	Schema   SchemaConfig   `json:"schema"`
	HTTP     HTTPConfig     `json:"http"`
	NATS     NATSConfig     `json:"nats"`
	Log      LogConfig      `json:"log"`
}

// DatabaseConfig selects the backend store.
type DatabaseConfig struct {
	Driver         string `json:"driver"` // mysql or sqlite
	DSN            string `json:"dsn"`
	Name           string `json:"name"`
	CreateDatabase bool   `json:"create_database"`
}

// SchemaConfig names the file the table layout is read from.
type SchemaConfig struct {
	File   string `json:"file"`
	Format string `json:"format"`
}

// HTTPConfig configures the HTTP and WebSocket front-end. Metrics are
// served on the same listener.
type HTTPConfig struct {
	Enabled          bool          `json:"enabled"`
	Address          string        `json:"address"`
	Path             string        `json:"path"`
	Timeout          time.Duration `json:"timeout"`
	MaxRequestSize   int64         `json:"max_request_size"`
	Metrics          bool          `json:"metrics"`
	EnablePlayground bool          `json:"enable_playground"`
	EnableCORS       bool          `json:"enable_cors"`
	CORSOrigins      []string      `json:"cors_origins,omitempty"`
}

// NATSConfig configures the NATS request/reply front-end.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URL           string        `json:"url"`
	Name          string        `json:"name"`
	SubjectPrefix string        `json:"subject_prefix"`
	QueueGroup    string        `json:"queue_group"`
	Workers       int           `json:"workers"`
	QueueSize     int           `json:"queue_size"`
	Timeout       time.Duration `json:"timeout"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Listen:              "127.0.0.1:7878",
		LoopbackConnections: 4,
		OutboundBuffer:      64,
		SubmitBuffer:        1024,
		Bootstrap:           true,
		ShutdownTimeout:     30 * time.Second,
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:gqlpool.db?_pragma=foreign_keys(1)",
			Name:   "gqlpool",
		},
		Schema: SchemaConfig{
			File:   "schema.graphql",
			Format: SchemaFormatTypes,
		},
		HTTP: HTTPConfig{
			Address:        "127.0.0.1:8080",
			Path:           "/query",
			Timeout:        30 * time.Second,
			MaxRequestSize: 1 << 20,
			Metrics:        true,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "gqlpool",
			SubjectPrefix: "gqlpool",
			QueueGroup:    "gqlpool",
			Workers:       8,
			QueueSize:     256,
			Timeout:       30 * time.Second,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration. The first problem found is returned,
// wrapping ErrInvalidConfig or ErrMissingConfig.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen", errors.ErrMissingConfig)
	}
	if c.LoopbackConnections < 0 {
		return fmt.Errorf("%w: loopback_connections cannot be negative", errors.ErrInvalidConfig)
	}
	if c.OutboundBuffer <= 0 || c.SubmitBuffer <= 0 {
		return fmt.Errorf("%w: outbound_buffer and submit_buffer must be positive", errors.ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", errors.ErrInvalidConfig)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Schema.File == "" {
		return fmt.Errorf("%w: schema.file", errors.ErrMissingConfig)
	}
	switch c.Schema.Format {
	case SchemaFormatTypes, SchemaFormatSDL:
	default:
		return fmt.Errorf("%w: schema.format %q (must be %q or %q)",
			errors.ErrInvalidConfig, c.Schema.Format, SchemaFormatTypes, SchemaFormatSDL)
	}

	if c.HTTP.Enabled {
		if c.HTTP.Address == "" {
			return fmt.Errorf("%w: http.address", errors.ErrMissingConfig)
		}
		if !strings.HasPrefix(c.HTTP.Path, "/") {
			return fmt.Errorf("%w: http.path %q must start with /", errors.ErrInvalidConfig, c.HTTP.Path)
		}
		if c.HTTP.Timeout <= 0 || c.HTTP.MaxRequestSize <= 0 {
			return fmt.Errorf("%w: http.timeout and http.max_request_size must be positive", errors.ErrInvalidConfig)
		}
	}

	if c.NATS.Enabled {
		if err := c.validateNATS(); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q", errors.ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format %q (must be json or text)", errors.ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Name == "" {
			return fmt.Errorf("%w: database.name is required for mysql", errors.ErrMissingConfig)
		}
	case "sqlite":
	default:
		return fmt.Errorf("%w: database.driver %q (must be mysql or sqlite)", errors.ErrInvalidConfig, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn", errors.ErrMissingConfig)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url", errors.ErrMissingConfig)
	}
	if !isValidSubject(c.NATS.SubjectPrefix) {
		return fmt.Errorf("%w: nats.subject_prefix %q is not a valid NATS subject",
			errors.ErrInvalidConfig, c.NATS.SubjectPrefix)
	}
	if c.NATS.QueueGroup == "" {
		return fmt.Errorf("%w: nats.queue_group", errors.ErrMissingConfig)
	}
	if c.NATS.Workers <= 0 || c.NATS.QueueSize <= 0 || c.NATS.Timeout <= 0 {
		return fmt.Errorf("%w: nats.workers, nats.queue_size and nats.timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.NATS.Password != "" && c.NATS.Username == "" {
		return fmt.Errorf("%w: nats.password requires nats.username", errors.ErrInvalidConfig)
	}
	return nil
}

// isValidSubject checks that s can prefix a NATS subject: dot-separated
// tokens of letters, digits, dashes and underscores, no wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}
