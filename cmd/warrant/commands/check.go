// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/policy"
)

func checkCommand() *cli.Command {
	var configPath string
	var server, tool, argsValue string

	return &cli.Command{
		Name:    "check",
		Summary: "Consume an approval for a guarded action",
		Description: `Check whether a guarded action may proceed, consuming the matching
approval. This is the command a guarded-tool wrapper runs immediately
before executing the action.

The policy file decides whether the action needs approval at all; an
action no rule matches passes without touching the store. Otherwise a
matching approved request is consumed (single-use approvals are
deleted, burst pre-approvals decremented).

Exit status 0 means proceed. Any other exit means do not run the
action; the reason is printed to stderr.`,
		Usage: "warrant check --server <id> --tool <name> [--args <json>]",
		Examples: []cli.Example{
			{
				Description: "Gate a merge on its approval",
				Command:     `warrant check --server github --tool merge_pr --args '{"pr":5}' && gh pr merge 5`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringVar(&server, "server", "", "server identifier (required)")
			flags.StringVar(&tool, "tool", "", "tool name (required)")
			flags.StringVar(&argsValue, "args", "", "argument JSON of the action (@file to read from a file)")
			return flags
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			if server == "" || tool == "" {
				return cli.Validation("--server and --tool are required")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			rules, err := policy.ReadFile(cfg.Paths.Policy)
			if err != nil {
				return err
			}
			if !rules.RequiresApproval(server, tool) {
				fmt.Printf("approval not required for %s/%s\n", server, tool)
				return nil
			}

			argsJSON, err := readArgsInput(argsValue)
			if err != nil {
				return err
			}

			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			decision, err := engine.CheckAndConsume(server, tool, argsJSON)
			if err != nil {
				return err
			}

			if decision.Approved {
				fmt.Printf("approved %s/%s (code %s)\n", server, tool, decision.Request.Code)
				return nil
			}
			fmt.Fprintf(os.Stderr, "denied: %s\n", decision.Reason)
			return &cli.ExitError{Code: 1}
		},
	}
}
