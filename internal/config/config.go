// ABOUTME: Configuration loading and parsing for hookline
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hookline configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	HITL     HITLConfig     `yaml:"hitl"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HITLConfig holds human-in-the-loop timing configuration
type HITLConfig struct {
	// DeliveryTimeout bounds a single relay delivery attempt. Independent
	// of any request's timeoutSeconds.
	DeliveryTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DeliveryTimeoutRaw string `yaml:"delivery_timeout"`
}

// StreamConfig holds observer stream configuration
type StreamConfig struct {
	// MaxReplay caps the ?recent=N backfill a connecting observer may
	// request. Zero disables replay.
	MaxReplay int `yaml:"max_replay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that may be omitted from the file.
func (c *Config) applyDefaults() {
	if c.HITL.DeliveryTimeout == 0 {
		c.HITL.DeliveryTimeout = 5 * time.Second
	}
	if c.Stream.MaxReplay == 0 {
		c.Stream.MaxReplay = 100
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Stream.MaxReplay < 0 {
		return fmt.Errorf("stream.max_replay must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.HITL.DeliveryTimeoutRaw != "" {
		cfg.HITL.DeliveryTimeout, err = time.ParseDuration(cfg.HITL.DeliveryTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing delivery_timeout %q: %w", cfg.HITL.DeliveryTimeoutRaw, err)
		}
	}

	return nil
}
