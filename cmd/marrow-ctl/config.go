// ABOUTME: Configuration loading for the marrow controller CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Agent   AgentConfig   `toml:"agent"`
	Logging LoggingConfig `toml:"logging"`
}

type AgentConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// configPath returns the controller config path.
// Priority: MARROW_CTL_CONFIG env var > XDG_CONFIG_HOME/marrow/ctl.toml > ~/.config/marrow/ctl.toml
func configPath() string {
	if envPath := os.Getenv("MARROW_CTL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "ctl.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "marrow", "ctl.toml")
}

// loadConfig reads config from the default path, falling back to environment
// variables when no file exists so the CLI works without setup.
func loadConfig() (*Config, error) {
	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{
			Agent: AgentConfig{
				URL:   os.Getenv("MARROW_AGENT_URL"),
				Token: os.Getenv("MARROW_TOKEN"),
			},
		}
		if cfg.Agent.URL == "" {
			cfg.Agent.URL = "http://127.0.0.1:7723"
		}
		return cfg, cfg.Validate()
	}
	return load(path)
}

// load reads config from the given path, expanding environment variables.
func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}
	u, err := url.Parse(c.Agent.URL)
	if err != nil {
		return fmt.Errorf("agent.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("agent.url must use http or https scheme")
	}
	return nil
}
