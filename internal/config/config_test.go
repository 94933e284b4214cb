// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and loopback validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  addr: "127.0.0.1:7723"
  idle_timeout: "90s"

auth:
  jwt_secret: "test-secret"

resolver:
  max_attempts: 5
  retry_backoff: "250ms"

events:
  monitor_interval: "10s"
  queue_size: 128

pinning:
  unpin_queue_size: 256

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.Addr != "127.0.0.1:7723" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, "127.0.0.1:7723")
	}
	if cfg.Server.IdleTimeout != 90*time.Second {
		t.Errorf("Server.IdleTimeout = %v, want %v", cfg.Server.IdleTimeout, 90*time.Second)
	}

	// Verify auth config
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}

	// Verify resolver config with duration parsing
	if cfg.Resolver.MaxAttempts != 5 {
		t.Errorf("Resolver.MaxAttempts = %d, want 5", cfg.Resolver.MaxAttempts)
	}
	if cfg.Resolver.RetryBackoff != 250*time.Millisecond {
		t.Errorf("Resolver.RetryBackoff = %v, want %v", cfg.Resolver.RetryBackoff, 250*time.Millisecond)
	}

	// Verify events config
	if cfg.Events.MonitorInterval != 10*time.Second {
		t.Errorf("Events.MonitorInterval = %v, want %v", cfg.Events.MonitorInterval, 10*time.Second)
	}
	if cfg.Events.QueueSize != 128 {
		t.Errorf("Events.QueueSize = %d, want 128", cfg.Events.QueueSize)
	}

	// Verify pinning config
	if cfg.Pinning.UnpinQueueSize != 256 {
		t.Errorf("Pinning.UnpinQueueSize = %d, want 256", cfg.Pinning.UnpinQueueSize)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MARROW_SECRET", "secret-from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  addr: "127.0.0.1:7723"

auth:
  jwt_secret: "${TEST_MARROW_SECRET}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  addr: "127.0.0.1:7723"

auth:
  jwt_secret: "${UNSET_VAR_FOR_TEST}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret = %q, want empty string for unset env var", cfg.Auth.JWTSecret)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  addr: "127.0.0.1:7723"

resolver:
  retry_backoff: "not-a-duration"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Invalid YAML content
	configContent := `
server:
  addr "missing colon"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate_Addresses(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantErr       bool
		wantErrSubstr string
	}{
		{
			name:    "loopback IPv4",
			cfg:     Config{Server: ServerConfig{Addr: "127.0.0.1:7723"}},
			wantErr: false,
		},
		{
			name:    "loopback IPv6",
			cfg:     Config{Server: ServerConfig{Addr: "[::1]:7723"}},
			wantErr: false,
		},
		{
			name:    "localhost hostname",
			cfg:     Config{Server: ServerConfig{Addr: "localhost:7723"}},
			wantErr: false,
		},
		{
			name:          "missing addr",
			cfg:           Config{},
			wantErr:       true,
			wantErrSubstr: "server.addr is required",
		},
		{
			name:          "wildcard bind rejected",
			cfg:           Config{Server: ServerConfig{Addr: "0.0.0.0:7723"}},
			wantErr:       true,
			wantErrSubstr: "must be a loopback address",
		},
		{
			name:          "external address rejected",
			cfg:           Config{Server: ServerConfig{Addr: "10.0.0.5:7723"}},
			wantErr:       true,
			wantErrSubstr: "must be a loopback address",
		},
		{
			name:          "non-loopback hostname rejected",
			cfg:           Config{Server: ServerConfig{Addr: "example.com:7723"}},
			wantErr:       true,
			wantErrSubstr: "must be a loopback address",
		},
		{
			name:          "missing port",
			cfg:           Config{Server: ServerConfig{Addr: "127.0.0.1"}},
			wantErr:       true,
			wantErrSubstr: "not a valid host:port",
		},
		{
			name: "negative idle_timeout rejected",
			cfg: Config{
				Server: ServerConfig{Addr: "127.0.0.1:7723", IdleTimeout: -time.Second},
			},
			wantErr:       true,
			wantErrSubstr: "idle_timeout",
		},
		{
			name: "negative max_attempts rejected",
			cfg: Config{
				Server:   ServerConfig{Addr: "127.0.0.1:7723"},
				Resolver: ResolverConfig{MaxAttempts: -1},
			},
			wantErr:       true,
			wantErrSubstr: "max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
					return
				}
				if !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config should validate, got %v", err)
	}
}
