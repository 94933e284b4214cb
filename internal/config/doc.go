// Package config handles configuration loading for the marrow agent.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MARROW_CONFIG environment variable
//  2. ./marrow.yaml (current directory)
//  3. ~/.config/marrow/agent.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MARROW_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	resolver:
//	  retry_backoff: "100ms"
//	events:
//	  monitor_interval: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  addr: "127.0.0.1:7723"  # Must be a loopback address
//
// Authentication (disabled when no secret is configured):
//
//	auth:
//	  jwt_secret: "${MARROW_JWT_SECRET}"
//
// Resolver retry tuning:
//
//	resolver:
//	  max_attempts: 10
//	  retry_backoff: "100ms"
//
// Event bridge tuning:
//
//	events:
//	  monitor_interval: "5s"
//	  queue_size: 64
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Server address is present and resolves to loopback
//   - Duration format validity
//   - Queue sizes and retry counts are non-negative
package config
