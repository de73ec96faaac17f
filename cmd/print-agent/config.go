// ABOUTME: Configuration loading for the on-premise print agent
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bridge  BridgeConfig  `toml:"bridge"`
	Printer PrinterConfig `toml:"printer"`
	Logging LoggingConfig `toml:"logging"`
}

type BridgeConfig struct {
	URL      string `toml:"url"`
	TenantID string `toml:"tenant_id"`
	Token    string `toml:"token"`

	// Parsed duration fields (from raw strings below)
	HealthInterval time.Duration `toml:"-"`
	ReconnectMax   time.Duration `toml:"-"`

	HealthIntervalRaw string `toml:"health_interval"`
	ReconnectMaxRaw   string `toml:"reconnect_max"`
}

type PrinterConfig struct {
	Mode     string `toml:"mode"`
	Addr     string `toml:"addr"`
	SpoolDir string `toml:"spool_dir"`

	WriteTimeout time.Duration `toml:"-"`

	WriteTimeoutRaw string `toml:"write_timeout"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
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

	if err := cfg.parseDurations(); err != nil {
		return nil, err
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

// parseDurations converts raw duration strings into their typed fields,
// applying defaults where the config is silent.
func (c *Config) parseDurations() error {
	durations := []struct {
		raw  string
		dst  *time.Duration
		def  time.Duration
		name string
	}{
		{c.Bridge.HealthIntervalRaw, &c.Bridge.HealthInterval, 30 * time.Second, "bridge.health_interval"},
		{c.Bridge.ReconnectMaxRaw, &c.Bridge.ReconnectMax, 30 * time.Second, "bridge.reconnect_max"},
		{c.Printer.WriteTimeoutRaw, &c.Printer.WriteTimeout, 10 * time.Second, "printer.write_timeout"},
	}

	for _, d := range durations {
		if d.raw == "" {
			*d.dst = d.def
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required")
	}
	u, err := url.Parse(c.Bridge.URL)
	if err != nil {
		return fmt.Errorf("bridge.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("bridge.url must use ws or wss scheme")
	}
	if c.Bridge.TenantID == "" {
		return fmt.Errorf("bridge.tenant_id is required")
	}

	if c.Printer.Mode == "" {
		c.Printer.Mode = "tcp"
	}
	switch c.Printer.Mode {
	case "tcp":
		if c.Printer.Addr == "" {
			return fmt.Errorf("printer.addr is required in tcp mode")
		}
	case "spool":
		if c.Printer.SpoolDir == "" {
			return fmt.Errorf("printer.spool_dir is required in spool mode")
		}
	default:
		return fmt.Errorf("printer.mode must be \"tcp\" or \"spool\"")
	}

	return nil
}
