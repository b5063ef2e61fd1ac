// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete warrant CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/approval"
	"github.com/gentyr/warrant/lib/audit"
	"github.com/gentyr/warrant/lib/config"
	"github.com/gentyr/warrant/lib/version"
)

// Root builds and returns the complete warrant CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "warrant",
		Description: `Warrant: human approval tokens for autonomous agents.

An agent requests approval for a sensitive action and receives a
short code. A human redeems the code with an approval phrase on a
trusted terminal. The guarded tool consumes the approval exactly once
at execution time, bound to the exact arguments that were approved.`,
		Subcommands: []*cli.Command{
			requestCommand(),
			approveCommand(),
			checkCommand(),
			listCommand(),
			keyCommand(),
			encryptCommand(),
			decryptCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("warrant %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// loadConfig resolves the configuration: an explicit --config path
// wins, then WARRANT_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// buildEngine wires an approval engine from the configuration.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*approval.Engine, error) {
	ttl, err := cfg.TTL()
	if err != nil {
		return nil, err
	}
	var trail *audit.Writer
	if cfg.AuditEnabled() {
		trail = audit.NewWriter(cfg.Paths.Audit, cfg.Audit.MaxBytes)
	}
	return approval.New(approval.Options{
		StorePath: cfg.Paths.Store,
		LockPath:  cfg.Paths.Lock,
		KeyPath:   cfg.Paths.Key,
		TTL:       ttl,
		Logger:    logger,
		Trail:     trail,
	}), nil
}
