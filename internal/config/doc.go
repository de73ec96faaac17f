// Package config handles configuration loading for print-bridge.
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
//  1. Path from PRINT_BRIDGE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/print-bridge/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PRINT_BRIDGE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  registration_window: "10s"
//	  dispatch_timeout: "30s"
//	  sweep_interval: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  bridge_addr: "0.0.0.0:9000"  # Agent websocket connections
//	  http_addr: "0.0.0.0:8080"    # REST API and health endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/print-bridge/bridge.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${PRINT_BRIDGE_JWT_SECRET}"  # Empty disables auth
//
// Agent timing:
//
//	agents:
//	  registration_window: "10s"  # Close sessions that never register
//	  dispatch_timeout: "30s"     # Default wait for a job result
//	  sweep_interval: "1s"        # Timeout sweep granularity
//	  ping_interval: "54s"
//	  pong_timeout: "60s"
//	  send_buffer: 64
//
// Event broker (optional):
//
//	events:
//	  nats_url: "nats://localhost:4222"  # Empty disables publishing
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "print-bridge"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/print-bridge/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
