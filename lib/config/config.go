// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for warrant commands.
//
// Configuration is loaded from a single YAML file specified by:
//   - WARRANT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery beyond the built-in
// defaults. The config file is the single source of truth; environment
// variables do not override individual values. This keeps the paths an
// approval decision depends on deterministic and auditable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for warrant.
type Config struct {
	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// Approval configures request lifetimes.
	Approval ApprovalConfig `yaml:"approval"`

	// Audit configures the audit trail.
	Audit AuditConfig `yaml:"audit"`
}

// PathsConfig configures file locations. All approval state lives
// under a single root so a deployment can be relocated by moving one
// directory.
type PathsConfig struct {
	// Root is the base directory for warrant state.
	Root string `yaml:"root"`

	// Store is the approval store JSON document.
	Store string `yaml:"store"`

	// Lock is the store lock marker file.
	Lock string `yaml:"lock"`

	// Key is the protection key file.
	Key string `yaml:"key"`

	// Policy is the JSONC policy file.
	Policy string `yaml:"policy"`

	// Audit is the audit trail JSONL file.
	Audit string `yaml:"audit"`
}

// ApprovalConfig configures request lifetimes.
type ApprovalConfig struct {
	// TTL is the default request lifetime as a Go duration string.
	// Default: 15m.
	TTL string `yaml:"ttl"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Enabled turns the audit trail on. Default: true.
	Enabled *bool `yaml:"enabled"`

	// MaxBytes rotates the active file past this size. Default: 1 MiB.
	MaxBytes int64 `yaml:"max_bytes"`
}

// Default returns the default configuration, rooted under the user's
// state directory.
func Default() *Config {
	cfg := baseConfig()
	cfg.fillPathDefaults()
	return cfg
}

// baseConfig returns the defaults with only the root path set. File
// paths are not derived yet: LoadFile must unmarshal over this base
// first, so a config that overrides paths.root relocates the derived
// paths instead of keeping the home-dir defaults.
func baseConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			Root: filepath.Join(homeDir, ".local", "state", "warrant"),
		},
		Approval: ApprovalConfig{
			TTL: "15m",
		},
	}
}

// Load loads configuration from the WARRANT_CONFIG environment
// variable. With the variable unset the built-in defaults apply; a
// set variable pointing at an unreadable file is an error, never a
// silent fallback.
func Load() (*Config, error) {
	configPath := os.Getenv("WARRANT_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := baseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.fillPathDefaults()
	if _, err := cfg.TTL(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// fillPathDefaults derives unset file paths from the root, so a
// config that only overrides paths.root relocates everything.
func (c *Config) fillPathDefaults() {
	if c.Paths.Root == "" {
		return
	}
	if c.Paths.Store == "" {
		c.Paths.Store = filepath.Join(c.Paths.Root, "approvals.json")
	}
	if c.Paths.Lock == "" {
		c.Paths.Lock = c.Paths.Store + ".lock"
	}
	if c.Paths.Key == "" {
		c.Paths.Key = filepath.Join(c.Paths.Root, "protection.key")
	}
	if c.Paths.Policy == "" {
		c.Paths.Policy = filepath.Join(c.Paths.Root, "policy.jsonc")
	}
	if c.Paths.Audit == "" {
		c.Paths.Audit = filepath.Join(c.Paths.Root, "audit.jsonl")
	}
}

// TTL parses the configured default request lifetime.
func (c *Config) TTL() (time.Duration, error) {
	if c.Approval.TTL == "" {
		return 15 * time.Minute, nil
	}
	ttl, err := time.ParseDuration(c.Approval.TTL)
	if err != nil {
		return 0, fmt.Errorf("parsing approval.ttl %q: %w", c.Approval.TTL, err)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("approval.ttl %q must be positive", c.Approval.TTL)
	}
	return ttl, nil
}

// AuditEnabled reports whether the audit trail is on.
func (c *Config) AuditEnabled() bool {
	return c.Audit.Enabled == nil || *c.Audit.Enabled
}
