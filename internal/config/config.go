package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Reasoning ReasoningConfig  `json:"reasoning"`
	Telemetry TelemetryConfig  `json:"telemetry"`
}

type ServerConfig struct {
	Port            int      `json:"port"`
	LogLevel        string   `json:"log_level"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty"`
}

// ReasoningConfig tunes the reasoning engine.
type ReasoningConfig struct {
	ConsensusThreshold float64  `json:"consensus_threshold"`
	DefaultModel       string   `json:"default_model"`
	PathAProvider      string   `json:"path_a_provider"`
	PathBProvider      string   `json:"path_b_provider"`
	Fallbacks          []string `json:"fallbacks,omitempty"`
	MaxTokens          int      `json:"max_tokens"`
	Temperature        float64  `json:"temperature"`
	MaxAttempts        int      `json:"max_attempts"`
}

// TelemetryConfig selects event sinks.
type TelemetryConfig struct {
	Prometheus  bool   `json:"prometheus"`
	RedisURL    string `json:"redis_url"`
	RedisStream string `json:"redis_stream"`
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or seconds: %s", b)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	// Decode onto the defaults so fields where zero is meaningful, such as
	// consensus_threshold, keep an explicit 0.
	cfg := Defaults()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config usable without a file.
func Defaults() *Config {
	cfg := &Config{}
	cfg.Reasoning.ConsensusThreshold = DefaultConsensusThreshold
	cfg.ApplyDefaults()
	return cfg
}

// DefaultConsensusThreshold applies when the config omits
// reasoning.consensus_threshold.
const DefaultConsensusThreshold = 0.8

// ApplyDefaults fills zero values. Fields where zero is a valid setting are
// seeded by Defaults instead.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(15 * time.Second)
	}
	if c.Reasoning.MaxTokens == 0 {
		c.Reasoning.MaxTokens = 4096
	}
	if c.Reasoning.MaxAttempts == 0 {
		c.Reasoning.MaxAttempts = 1
	}
	if c.Telemetry.RedisStream == "" {
		c.Telemetry.RedisStream = "nuka:reasoning:events"
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if t := c.Reasoning.ConsensusThreshold; !(t >= 0 && t <= 1) {
		errs = append(errs, fmt.Errorf("reasoning.consensus_threshold %v outside [0, 1]", t))
	}
	if c.Reasoning.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("reasoning.max_tokens must not be negative"))
	}
	if c.Reasoning.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reasoning.max_attempts must be at least 1"))
	}

	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: id is required", i))
			continue
		}
		if ids[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID))
		}
		ids[p.ID] = true
		switch strings.ToLower(p.Type) {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("providers[%d]: unknown type %q", i, p.Type))
		}
	}
	for _, ref := range []struct{ name, id string }{
		{"reasoning.path_a_provider", c.Reasoning.PathAProvider},
		{"reasoning.path_b_provider", c.Reasoning.PathBProvider},
	} {
		if ref.id != "" && !ids[ref.id] {
			errs = append(errs, fmt.Errorf("%s references unknown provider %q", ref.name, ref.id))
		}
	}
	return errors.Join(errs...)
}
