// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/approval"
)

func approveCommand() *cli.Command {
	var configPath string
	var phrase string

	return &cli.Command{
		Name:    "approve",
		Summary: "Redeem an approval code with the approval phrase",
		Description: `Redeem a pending approval request. This command is for the human
operator, run on a trusted terminal the agent cannot observe.

The approval phrase is read from the terminal with echo disabled.
Passing it with --phrase is supported for scripting but leaves the
phrase in shell history; prefer the prompt.

On a wrong phrase the request stays pending and the expected phrase
is shown, so a typo does not burn the request.`,
		Usage: "warrant approve <code>",
		Examples: []cli.Example{
			{
				Description: "Redeem a code, phrase prompted with echo off",
				Command:     "warrant approve K7M2XQ",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("approve", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringVar(&phrase, "phrase", "", "approval phrase (prompted when omitted)")
			return flags
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("exactly one approval code is required")
			}
			code := args[0]

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if phrase == "" {
				phrase, err = promptPhrase()
				if err != nil {
					return err
				}
			}

			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			decision, err := engine.Validate(phrase, code)
			if err != nil {
				return err
			}

			if decision.Approved {
				fmt.Printf("approved %s\n", strings.ToUpper(strings.TrimSpace(code)))
				return nil
			}
			if decision.Reason == approval.ReasonWrongPhrase {
				fmt.Fprintf(os.Stderr, "wrong phrase; expected %q (request is still pending)\n",
					decision.ExpectedPhrase)
				return &cli.ExitError{Code: 1}
			}
			fmt.Fprintf(os.Stderr, "rejected: %s\n", decision.Reason)
			return &cli.ExitError{Code: 1}
		},
	}
}

// promptPhrase reads the approval phrase from the terminal with echo
// disabled. Refuses to read from a pipe: the phrase comes from a
// human at a terminal, not from another process.
func promptPhrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; use --phrase for scripted approval")
	}
	fmt.Fprint(os.Stderr, "approval phrase: ")
	entered, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading phrase: %w", err)
	}
	return string(entered), nil
}
