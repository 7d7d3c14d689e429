// Package config loads the harness driver configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the driver's fixed launch parameter set. Values given on
// the command line override values loaded from a file.
type Config struct {
	// LLDB is the debugger binary path.
	LLDB string `yaml:"lldb"`
	// Runner is the debuggee runner binary (e.g. corerun).
	Runner string `yaml:"runner"`
	// Plugin is the debugger-extension artifact loaded into each
	// session.
	Plugin string `yaml:"plugin"`
	// Assembly is the target assembly the runner executes.
	Assembly string `yaml:"assembly"`
	// TimeoutSeconds is the per-scenario wall-clock deadline.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// WorkDir holds sentinel files and per-scenario logs.
	WorkDir string `yaml:"workdir"`
	// BootstrapSymbol overrides the runtime-loader symbol the session
	// controller synchronizes on.
	BootstrapSymbol string `yaml:"bootstrap_symbol"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		LLDB:           "lldb",
		Assembly:       "test.exe",
		TimeoutSeconds: 120,
		WorkDir:        ".",
	}
}

// Load reads a YAML config file over the defaults. Unknown fields are
// rejected so typos surface instead of silently falling back.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field-level constraints.
func (c Config) Validate() error {
	if c.LLDB == "" {
		return fmt.Errorf("lldb binary path is required")
	}
	if c.Assembly == "" {
		return fmt.Errorf("target assembly is required")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("workdir is required")
	}
	return nil
}

// Timeout returns the per-scenario deadline as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
