// ABOUTME: Configuration loading and parsing for the marrow agent
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete marrow agent configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Resolver ResolverConfig `yaml:"resolver"`
	Events   EventsConfig   `yaml:"events"`
	Pinning  PinningConfig  `yaml:"pinning"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the agent listen address and request timeout configuration
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	IdleTimeout time.Duration `yaml:"-"`

	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ResolverConfig holds address resolution retry configuration
type ResolverConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RetryBackoffRaw string `yaml:"retry_backoff"`
}

// EventsConfig holds event bridge timing configuration
type EventsConfig struct {
	MonitorInterval time.Duration `yaml:"-"`
	QueueSize       int           `yaml:"queue_size"`

	// Raw string value for YAML unmarshaling
	MonitorIntervalRaw string `yaml:"monitor_interval"`
}

// PinningConfig holds pinned object registry configuration
type PinningConfig struct {
	UnpinQueueSize int `yaml:"unpin_queue_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults for in-process embedding,
// bypassing file loading entirely.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: "127.0.0.1:7723"},
	}
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// The agent exposes live process internals, so it must never bind a
	// non-loopback interface.
	host, _, err := net.SplitHostPort(c.Server.Addr)
	if err != nil {
		return fmt.Errorf("server.addr %q is not a valid host:port", c.Server.Addr)
	}
	if ip := net.ParseIP(host); ip != nil {
		if !ip.IsLoopback() {
			return fmt.Errorf("server.addr %q must be a loopback address", c.Server.Addr)
		}
	} else if host != "localhost" {
		return fmt.Errorf("server.addr %q must be a loopback address", c.Server.Addr)
	}

	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server.idle_timeout must not be negative")
	}
	if c.Resolver.MaxAttempts < 0 {
		return fmt.Errorf("resolver.max_attempts must not be negative")
	}
	if c.Events.QueueSize < 0 {
		return fmt.Errorf("events.queue_size must not be negative")
	}
	if c.Pinning.UnpinQueueSize < 0 {
		return fmt.Errorf("pinning.unpin_queue_size must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.IdleTimeoutRaw != "" {
		cfg.Server.IdleTimeout, err = time.ParseDuration(cfg.Server.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Server.IdleTimeoutRaw, err)
		}
	}

	if cfg.Resolver.RetryBackoffRaw != "" {
		cfg.Resolver.RetryBackoff, err = time.ParseDuration(cfg.Resolver.RetryBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_backoff %q: %w", cfg.Resolver.RetryBackoffRaw, err)
		}
	}

	if cfg.Events.MonitorIntervalRaw != "" {
		cfg.Events.MonitorInterval, err = time.ParseDuration(cfg.Events.MonitorIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing monitor_interval %q: %w", cfg.Events.MonitorIntervalRaw, err)
		}
	}

	return nil
}
