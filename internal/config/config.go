// Package config loads evfsm settings from a YAML file and the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, EVFSM_*
// environment variables. Command-line flags are applied by the CLI on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/evfsm/internal/eventlog"
	"github.com/roach88/evfsm/internal/machine"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "EVFSM_"

// Config is the full evfsm configuration.
type Config struct {
	Store     Store     `yaml:"store" envPrefix:"STORE_"`
	Machine   Machine   `yaml:"machine" envPrefix:"MACHINE_"`
	Telemetry Telemetry `yaml:"telemetry" envPrefix:"OTEL_"`
}

// Store configures the SQLite event store.
type Store struct {
	Path        string `yaml:"path" env:"PATH"`
	Synchronous string `yaml:"synchronous" env:"SYNCHRONOUS"`

	// LowLevel and HighLevel drive automatic compaction; HighLevel 0 disables it.
	LowLevel  int `yaml:"low_level" env:"LOW_LEVEL"`
	HighLevel int `yaml:"high_level" env:"HIGH_LEVEL"`
}

// Levels returns the automatic compaction levels.
func (s Store) Levels() eventlog.Levels {
	return eventlog.Levels{Low: s.LowLevel, High: s.HighLevel}
}

// Machine configures the runtime.
type Machine struct {
	Mode               string `yaml:"mode" env:"MODE"`
	InputBuffer        int    `yaml:"input_buffer" env:"INPUT_BUFFER"`
	SubscriberCapacity int    `yaml:"subscriber_capacity" env:"SUBSCRIBER_CAPACITY"`
}

// ParsedMode returns the append-failure mode.
func (m Machine) ParsedMode() (machine.Mode, error) {
	return machine.ParseMode(m.Mode)
}

// Telemetry configures OTLP trace export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Store: Store{
			Path:        "evfsm.db",
			Synchronous: "NORMAL",
		},
		Machine: Machine{
			Mode:               machine.Optimistic.String(),
			SubscriberCapacity: 64,
		},
		Telemetry: Telemetry{
			ServiceName: "evfsm",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, err
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	// Strict field validation catches typos like "high_levle".
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ParseEnv overlays EVFSM_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	switch c.Store.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		errs = append(errs, fmt.Errorf("store.synchronous: unknown mode %q", c.Store.Synchronous))
	}
	if err := c.Store.Levels().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if _, err := c.Machine.ParsedMode(); err != nil {
		errs = append(errs, fmt.Errorf("machine.mode: %w", err))
	}
	if c.Machine.InputBuffer < 0 {
		errs = append(errs, fmt.Errorf("machine.input_buffer must be >= 0, got %d", c.Machine.InputBuffer))
	}
	if c.Machine.SubscriberCapacity < 1 {
		errs = append(errs, fmt.Errorf("machine.subscriber_capacity must be >= 1, got %d", c.Machine.SubscriberCapacity))
	}

	return errors.Join(errs...)
}
