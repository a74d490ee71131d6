// Package config loads the exchange server configuration from YAML
// with ${VAR} environment expansion, defaults, and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Exchange ExchangeConfig `yaml:"exchange"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// LedgerConfig selects and configures the event log backend.
type LedgerConfig struct {
	// Backend is one of "file", "postgres", "memory".
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`         // file backend
	DatabaseURL string `yaml:"database_url"` // postgres backend
}

// RedisConfig configures the optional trade-notification publisher.
// Leave URL empty to disable.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// LogConfig configures structured logging. When File is set, output
// rotates through lumberjack instead of going to stdout.
type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ExchangeConfig tunes exchange behavior.
type ExchangeConfig struct {
	// RejectStaleQuotes makes commits fail when the ledger moved after
	// the quote, instead of re-pricing against fresh state.
	RejectStaleQuotes bool `yaml:"reject_stale_quotes"`
}

// Default values for optional configuration fields.
const (
	DefaultAddr          = ":8080"
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	DefaultIdleTimeout   = 60 * time.Second
	DefaultShutdownGrace = 5 * time.Second
	DefaultBackend       = "file"
	DefaultLedgerPath    = "ledger.ndjson"
	DefaultRedisChannel  = "trades"
	DefaultLogLevel      = "info"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 30
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a config with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset optional fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = DefaultShutdownGrace
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = DefaultBackend
	}
	if c.Ledger.Backend == "file" && c.Ledger.Path == "" {
		c.Ledger.Path = DefaultLedgerPath
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger: file backend requires path")
		}
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			return fmt.Errorf("ledger: postgres backend requires database_url")
		}
	case "memory":
		// Nothing to check; data will not persist.
	default:
		return fmt.Errorf("ledger: unknown backend %q (want file, postgres, or memory)", c.Ledger.Backend)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}

	return nil
}
