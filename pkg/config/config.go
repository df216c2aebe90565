// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the benchtop TOML configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file under the config directory
const FileName = "benchtop.toml"

// Config is the whole configuration file
type Config struct {
	Bus         Bus          `toml:"bus"`
	Instruments []Instrument `toml:"instrument"`
	Log         Log          `toml:"log"`
	Archive     Archive      `toml:"archive"`
	Metrics     Metrics      `toml:"metrics"`
}

// Bus describes how to reach the GPIB controller
type Bus struct {
	Port          string `toml:"port"`
	Baud          int    `toml:"baud"`
	URL           string `toml:"url"`
	Username      string `toml:"username"`
	NoSSLVerify   bool   `toml:"no_ssl_verify"`
	ReadTimeoutMs int    `toml:"read_timeout_ms"`
	EOTChar       int    `toml:"eot_char"`
}

// Instrument is one device on the bus
type Instrument struct {
	Name           string `toml:"name"`
	Model          string `toml:"model"`
	Address        int    `toml:"address"`
	TimeoutMs      int    `toml:"timeout_ms"`
	PollIntervalMs int    `toml:"poll_interval_ms"`
	QueueDepth     int    `toml:"queue_depth"`
}

// Timeout returns the per-command timeout
func (i Instrument) Timeout() time.Duration {
	return time.Duration(i.TimeoutMs) * time.Millisecond
}

// PollInterval returns the SRQ poll interval
func (i Instrument) PollInterval() time.Duration {
	return time.Duration(i.PollIntervalMs) * time.Millisecond
}

// Log configures logrus
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Archive selects reading sinks. Empty fields disable a sink.
type Archive struct {
	SQLite        string `toml:"sqlite"`
	Capture       string `toml:"capture"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`
}

// Metrics configures the Prometheus endpoint. Empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Models accepted in [[instrument]]
const (
	ModelHP3457 = "hp3457"
	ModelHP3586 = "hp3586"
)

// Default returns the configuration written on first run
func Default() *Config {
	return &Config{
		Bus: Bus{
			Port:          "/dev/ttyUSB0",
			Baud:          115200,
			ReadTimeoutMs: 500,
			EOTChar:       4,
		},
		Instruments: []Instrument{
			{Name: "dmm", Model: ModelHP3457, Address: 22, TimeoutMs: 5000, PollIntervalMs: 250, QueueDepth: 32},
			{Name: "level", Model: ModelHP3586, Address: 15, TimeoutMs: 5000, PollIntervalMs: 250, QueueDepth: 32},
		},
		Log: Log{Level: "info", Format: "text"},
		Archive: Archive{
			RedisChannel: "benchtop:readings",
		},
	}
}

// DefaultPath returns benchtop.toml under the user config directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "benchtop", FileName), nil
}

// Load reads path, creating it with defaults when it does not exist
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := Default()
	// an explicit [[instrument]] list replaces the defaults
	cfg.Instruments = nil
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks instrument entries and fills per-instrument defaults
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		if inst.Name == "" {
			return fmt.Errorf("instrument %d has no name", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instrument name %q", inst.Name)
		}
		seen[inst.Name] = true

		switch inst.Model {
		case ModelHP3457, ModelHP3586:
		default:
			return fmt.Errorf("instrument %q: unknown model %q", inst.Name, inst.Model)
		}
		if inst.Address < 0 || inst.Address > 30 {
			return fmt.Errorf("instrument %q: address %d out of range 0-30", inst.Name, inst.Address)
		}
		if inst.TimeoutMs <= 0 {
			inst.TimeoutMs = 5000
		}
		if inst.PollIntervalMs <= 0 {
			inst.PollIntervalMs = 250
		}
		if inst.QueueDepth <= 0 {
			inst.QueueDepth = 32
		}
	}
	if c.Bus.EOTChar < 0 || c.Bus.EOTChar > 255 {
		return fmt.Errorf("eot_char %d is not a byte", c.Bus.EOTChar)
	}
	return nil
}

// Find returns the instrument with name
func (c *Config) Find(name string) (Instrument, bool) {
	for _, inst := range c.Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instrument{}, false
}
