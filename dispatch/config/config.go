// Package config loads the dispatcher's session defaults from YAML,
// following the decode-then-validate split of barnettlynn-nfctools's
// sdmconfig/internal/config loader.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the session defaults a device ships with: the activation
// FWI, default max frame size, and the serial link device path.
type Config struct {
	FWI          int    `yaml:"fwi"`
	MaxFrameSize int    `yaml:"max_frame_size"`
	SerialPort   string `yaml:"serial_port"`
	BaudRate     int    `yaml:"baud_rate"`
}

// Default returns the built-in defaults (FWI 9, max frame size 32) used
// when no config file is supplied.
func Default() Config {
	return Config{
		FWI:          9,
		MaxFrameSize: 32,
		BaudRate:     115200,
	}
}

// Load reads and validates a YAML config file at path.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	cfg := Default()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for internally consistent values.
func (c Config) Validate() error {
	if c.FWI < 0 || c.FWI > 14 {
		return fmt.Errorf("config: fwi must be 0..14, got %d", c.FWI)
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > 256 {
		return fmt.Errorf("config: max_frame_size must be 1..256, got %d", c.MaxFrameSize)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("config: baud_rate must be positive, got %d", c.BaudRate)
	}
	return nil
}
