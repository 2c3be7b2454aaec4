// Package config loads the recordkit process configuration.
//
// A config file selects the backend and describes the collection the
// adapter serves:
//
//	backend: sqlite          # sqlite (default), redis or memory
//	dsn: ./records.db        # sqlite path or redis URL
//	schema: ./people.cue     # YAML or CUE schema, relative to this file
//	id_field: entityId
//	expiration: 3600         # default TTL in seconds
//	multi: [create]
//	paginate: { default: 10, max: 50 }
//
// Command-line flags override file values (see Merge).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recordkit/internal/adapter"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultDSN is the SQLite database used when none is configured.
const DefaultDSN = "recordkit.db"

// Config is the process configuration.
type Config struct {
	Backend    string            `yaml:"backend,omitempty"`
	DSN        string            `yaml:"dsn,omitempty"`
	Schema     string            `yaml:"schema,omitempty"`
	IDField    string            `yaml:"id_field,omitempty"`
	Expiration *int              `yaml:"expiration,omitempty"`
	Multi      []string          `yaml:"multi,omitempty"`
	Paginate   *adapter.Paginate `yaml:"paginate,omitempty"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Backend: BackendSQLite,
		DSN:     DefaultDSN,
		IDField: adapter.DefaultIDField,
	}
}

// Load reads and validates a config file. Relative schema and SQLite
// paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(dir, cfg.Schema)
	}
	if cfg.Backend == BackendSQLite && cfg.DSN != ":memory:" && !filepath.IsAbs(cfg.DSN) {
		cfg.DSN = filepath.Join(dir, cfg.DSN)
	}
	return cfg, nil
}

// Parse decodes config YAML over the defaults. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if cfg.Backend == BackendRedis && cfg.DSN == DefaultDSN {
		cfg.DSN = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the backend and numeric settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want sqlite, redis or memory)", c.Backend)
	}
	if c.IDField == "" {
		return fmt.Errorf("id_field must not be empty")
	}
	if c.Expiration != nil && *c.Expiration <= 0 {
		return fmt.Errorf("expiration must be positive, got %d", *c.Expiration)
	}
	if p := c.Paginate; p != nil {
		if p.Default < 0 || p.Max < 0 {
			return fmt.Errorf("paginate values must be non-negative")
		}
		if p.Max > 0 && p.Default > p.Max {
			return fmt.Errorf("paginate default %d exceeds max %d", p.Default, p.Max)
		}
	}
	for _, m := range c.Multi {
		if m != adapter.MethodCreate {
			return fmt.Errorf("multi: %q does not accept multiple records", m)
		}
	}
	return nil
}

// Overrides are command-line values. Empty fields leave the config
// unchanged.
type Overrides struct {
	Backend string
	DSN     string
	Schema  string
}

// Merge applies o to c and revalidates.
func (c *Config) Merge(o Overrides) error {
	if o.Backend != "" {
		if o.Backend != c.Backend && o.DSN == "" {
			c.DSN = ""
			if o.Backend == BackendSQLite {
				c.DSN = DefaultDSN
			}
		}
		c.Backend = o.Backend
	}
	if o.DSN != "" {
		c.DSN = o.DSN
	}
	if o.Schema != "" {
		c.Schema = o.Schema
	}
	return c.Validate()
}

// AdapterOptions converts the config into adapter options.
func (c *Config) AdapterOptions() []adapter.Option {
	opts := []adapter.Option{adapter.WithIDField(c.IDField)}
	if c.Expiration != nil {
		opts = append(opts, adapter.WithExpiration(*c.Expiration))
	}
	if len(c.Multi) > 0 {
		opts = append(opts, adapter.WithMulti(c.Multi...))
	}
	if c.Paginate != nil {
		opts = append(opts, adapter.WithPaginate(c.Paginate))
	}
	return opts
}
