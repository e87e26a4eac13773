// Package config loads and validates the TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Lease    LeaseConfig    `toml:"lease"`
	Sequence SequenceConfig `toml:"sequence"`
	Events   EventsConfig   `toml:"events"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
}

// LeaseConfig holds lease timing as duration strings ("10m", "90s").
// The renewal interval is what well-behaved clients heartbeat at; it must
// leave headroom before the lease expires.
type LeaseConfig struct {
	Duration        string `toml:"duration"`
	RenewalInterval string `toml:"renewal_interval"`
}

type SequenceConfig struct {
	RetryAttempts int `toml:"retry_attempts"`
}

type EventsConfig struct {
	BufferSize int `toml:"buffer_size"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Server: ServerConfig{
			Bind: "127.0.0.1:8080",
		},
		Lease: LeaseConfig{
			Duration:        "10m",
			RenewalInterval: "5m",
		},
		Sequence: SequenceConfig{
			RetryAttempts: 5,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
	}
}

// Load reads the config file when present, layering it over defaults.
// A missing or empty file yields the defaults unchanged.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}

	duration, err := time.ParseDuration(c.Lease.Duration)
	if err != nil {
		return fmt.Errorf("invalid lease.duration: %q", c.Lease.Duration)
	}
	if duration <= 0 {
		return errors.New("lease.duration must be positive")
	}
	renewal, err := time.ParseDuration(c.Lease.RenewalInterval)
	if err != nil {
		return fmt.Errorf("invalid lease.renewal_interval: %q", c.Lease.RenewalInterval)
	}
	if renewal <= 0 {
		return errors.New("lease.renewal_interval must be positive")
	}
	if renewal >= duration {
		return errors.New("lease.renewal_interval must be shorter than lease.duration")
	}

	if c.Sequence.RetryAttempts <= 0 {
		return errors.New("sequence.retry_attempts must be positive")
	}
	if c.Events.BufferSize <= 0 {
		return errors.New("events.buffer_size must be positive")
	}
	return nil
}

// LeaseDuration returns the parsed lease duration. Valid only after Validate.
func (c Config) LeaseDuration() time.Duration {
	d, _ := time.ParseDuration(c.Lease.Duration)
	return d
}

// LeaseRenewalInterval returns the parsed heartbeat interval. Valid only
// after Validate.
func (c Config) LeaseRenewalInterval() time.Duration {
	d, _ := time.ParseDuration(c.Lease.RenewalInterval)
	return d
}
