// Package config manages diagcore configuration loading and validation.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/diagcore/errs"
	"github.com/coachpo/diagcore/internal/caller"
)

const component = "config"

// Environment variables overriding file values.
const (
	EnvVarEnvironment  = "DIAGCORE_ENV"
	EnvVarResolverMode = "DIAGCORE_RESOLVER_MODE"
	EnvVarLogLevel     = "DIAGCORE_LOG_LEVEL"
)

// TextPoolConfig sizes the scratch buffer pool used for stack trace rendering.
type TextPoolConfig struct {
	Capacity    int `yaml:"capacity"`
	InitialSize int `yaml:"initialSize"`
	Ceiling     int `yaml:"ceiling"`
}

// PoolConfig controls pooled object capacities.
type PoolConfig struct {
	Text TextPoolConfig `yaml:"text"`
}

// ResolverConfig tunes caller resolution.
type ResolverConfig struct {
	Mode            string   `yaml:"mode"`
	LibraryPrefixes []string `yaml:"libraryPrefixes"`
	HiddenMethods   []string `yaml:"hiddenMethods"`
	HiddenTypes     []string `yaml:"hiddenTypes"`
}

// LoggingConfig selects the zap level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
	ServiceName  string `yaml:"serviceName"`
}

// Config is the diagcore configuration sourced from YAML.
type Config struct {
	Environment Environment     `yaml:"environment"`
	Pools       PoolConfig      `yaml:"pools"`
	Resolver    ResolverConfig  `yaml:"resolver"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: EnvDev,
		Pools: PoolConfig{
			Text: TextPoolConfig{
				Capacity:    64,
				InitialSize: 1024,
				Ceiling:     66536,
			},
		},
		Resolver: ResolverConfig{
			Mode:            "full",
			LibraryPrefixes: nil,
			HiddenMethods:   nil,
			HiddenTypes:     nil,
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
			OTLPInsecure: true,
			ServiceName:  "diagcore",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, normalises and validates the result.
func Load(ctx context.Context, path string) (Config, error) {
	_ = ctx

	raw, err := os.ReadFile(filepath.Clean(strings.TrimSpace(path))) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return Config{}, err
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist. The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, path string) (Config, bool, error) {
	cfg, err := Load(ctx, path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, false, err
	}
	cfg, err = finish(Default())
	return cfg, false, err
}

// Parse decodes YAML over the defaults without applying overrides or
// validation. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func finish(cfg Config) (Config, error) {
	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(EnvVarEnvironment); ok && strings.TrimSpace(v) != "" {
		c.Environment = Environment(v)
	}
	if v, ok := lookup(EnvVarResolverMode); ok && strings.TrimSpace(v) != "" {
		c.Resolver.Mode = v
	}
	if v, ok := lookup(EnvVarLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Logging.Level = v
	}
}

// Normalise trims and lower-cases enumerations and drops blank or duplicate
// list entries.
func (c *Config) Normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Resolver.Mode = strings.ToLower(strings.TrimSpace(c.Resolver.Mode))
	c.Resolver.LibraryPrefixes = dedupe(c.Resolver.LibraryPrefixes)
	c.Resolver.HiddenMethods = dedupe(c.Resolver.HiddenMethods)
	c.Resolver.HiddenTypes = dedupe(c.Resolver.HiddenTypes)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

// Validate performs semantic validation on the configuration.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return errs.Invalid(component, "environment", "environment must be one of dev, staging, prod")
	}

	text := c.Pools.Text
	if text.Capacity <= 0 {
		return errs.Invalid(component, "pools.text.capacity", "pools.text.capacity must be >0")
	}
	if text.InitialSize <= 0 {
		return errs.Invalid(component, "pools.text.initialSize", "pools.text.initialSize must be >0")
	}
	if text.Ceiling < text.InitialSize {
		return errs.Invalid(component, "pools.text.ceiling", "pools.text.ceiling must be >= initialSize")
	}

	if _, err := caller.ParseMode(c.Resolver.Mode); err != nil {
		return errs.Invalid(component, "resolver.mode", "resolver mode must be full or fast")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errs.Invalid(component, "logging.level", "logging level must be one of debug, info, warn, error")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			return errs.Invalid(component, "telemetry.otlpEndpoint", "telemetry otlpEndpoint required when enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return errs.Invalid(component, "telemetry.serviceName", "telemetry serviceName required when enabled")
		}
	}
	return nil
}

// ResolverMode returns the parsed resolver mode. Call after Validate.
func (c Config) ResolverMode() caller.Mode {
	mode, _ := caller.ParseMode(c.Resolver.Mode)
	return mode
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
