// Package config loads sensor configuration files.
//
// Files are YAML. Durations accept Go duration strings ("90s", "1h30m") or
// plain integers meaning seconds. Every file is checked against an embedded
// CUE schema before it is decoded, so range and enum errors are reported
// with field paths.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/keysettle/internal/keysource"
	"github.com/roach88/keysettle/internal/sensor"
)

//go:embed schema.cue
var schemaCUE string

// Duration is a time.Duration that decodes from "90s" or 90 (seconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if node.ShortTag() == "!!int" {
		secs, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// S3 selects the storage endpoint.
type S3 struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	PageSize     int32  `yaml:"page_size"`
}

// Breaker tunes the circuit breaker around the key source.
type Breaker struct {
	MaxFailures uint32    `yaml:"max_failures"`
	OpenTimeout *Duration `yaml:"open_timeout"`
}

// Config is a parsed configuration file.
type Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Pointers distinguish "unset" from an explicit zero.
	InactivityPeriod *Duration `yaml:"inactivity_period"`
	MinObjects       *int      `yaml:"min_objects"`

	AllowDelete  bool      `yaml:"allow_delete"`
	SoftFail     bool      `yaml:"soft_fail"`
	Mode         string    `yaml:"mode"`
	Deferrable   bool      `yaml:"deferrable"`
	PokeInterval *Duration `yaml:"poke_interval"`
	Timeout      *Duration `yaml:"timeout"`

	S3      S3      `yaml:"s3"`
	Breaker Breaker `yaml:"breaker"`

	Database    string `yaml:"database"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// ValidationError reports a file that does not match the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Details
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// SensorOptions converts the file into sensor options, defaults included.
func (c *Config) SensorOptions() sensor.Options {
	opts := sensor.DefaultOptions()
	opts.Bucket = c.Bucket
	opts.Prefix = c.Prefix
	opts.AllowDelete = c.AllowDelete
	opts.SoftFail = c.SoftFail
	opts.Deferrable = c.Deferrable
	if c.InactivityPeriod != nil {
		opts.InactivityPeriod = c.InactivityPeriod.Std()
	}
	if c.MinObjects != nil {
		opts.MinObjects = *c.MinObjects
	}
	if c.Mode != "" {
		opts.Mode = sensor.Mode(c.Mode)
	}
	if c.PokeInterval != nil {
		opts.PokeInterval = c.PokeInterval.Std()
	}
	if c.Timeout != nil {
		opts.Timeout = c.Timeout.Std()
	}
	return opts
}

// S3Config returns the key source settings.
func (c *Config) S3Config() keysource.S3Config {
	return keysource.S3Config{
		Region:       c.S3.Region,
		Endpoint:     c.S3.Endpoint,
		UsePathStyle: c.S3.UsePathStyle,
		PageSize:     c.S3.PageSize,
	}
}

// BreakerSettings returns the circuit breaker settings.
func (c *Config) BreakerSettings() keysource.BreakerSettings {
	s := keysource.DefaultBreakerSettings()
	if c.Breaker.MaxFailures > 0 {
		s.MaxFailures = c.Breaker.MaxFailures
	}
	if c.Breaker.OpenTimeout != nil {
		s.OpenTimeout = c.Breaker.OpenTimeout.Std()
	}
	return s
}
