// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for yamlink commands.
//
// Configuration is loaded from a single file specified by:
//   - YAMLINK_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This keeps the
// mapping from a command name to the generic-netlink request it sends
// deterministic and auditable.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that locates the config file.
const EnvVar = "YAMLINK_CONFIG"

// Config is the master configuration for yamlink.
type Config struct {
	// Family is the generic-netlink family name requests address.
	Family string `yaml:"family"`

	// Version is the protocol version stamped on requests.
	Version uint8 `yaml:"version"`

	// Commands maps command names (as typed on the command line) to
	// the requests they send.
	Commands map[string]Command `yaml:"commands"`

	// Capture configures session capture files.
	Capture CaptureConfig `yaml:"capture"`
}

// Command describes one named generic-netlink request.
type Command struct {
	// ID is the family command number.
	ID uint8 `yaml:"id"`

	// Flags are additional netlink header flags for the request
	// (for example 0x300 for a dump).
	Flags uint16 `yaml:"flags"`

	// Stream marks commands whose replies arrive as asynchronous
	// events rather than a paired response.
	Stream bool `yaml:"stream"`
}

// CaptureConfig configures session capture.
type CaptureConfig struct {
	// Dir names a directory for capture files. It is loaded with the
	// rest of the config; cmd/yamlink's --record always takes an
	// explicit path and does not consult it.
	Dir string `yaml:"dir"`
}

// Load reads and validates the config file at path. When path is
// empty the YAMLINK_CONFIG environment variable is consulted; an
// empty result there too is an error, since every yamlink request
// needs at least a family.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file: set %s or pass --config", EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the config for the mistakes a typo produces.
func (c *Config) Validate() error {
	if c.Family == "" {
		return errors.New("family is required")
	}
	for name, cmd := range c.Commands {
		if name == "" {
			return errors.New("command with empty name")
		}
		if cmd.ID == 0 {
			return fmt.Errorf("command %q: id is required", name)
		}
	}
	return nil
}

// Lookup resolves a named command.
func (c *Config) Lookup(name string) (Command, error) {
	cmd, ok := c.Commands[name]
	if !ok {
		return Command{}, fmt.Errorf("config: unknown command %q", name)
	}
	return cmd, nil
}
