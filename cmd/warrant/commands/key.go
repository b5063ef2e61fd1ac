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

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/keystore"
)

func keyCommand() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Summary: "Manage the protection key",
		Description: `Manage the protection key that signs approval requests and encrypts
credential envelopes. The key file must be readable only by the
operator's user; the agent runs as a different user (or in a sandbox)
without access to it. A readable key is what makes forged store edits
detectable.`,
		Subcommands: []*cli.Command{
			keyInitCommand(),
			keyEscrowCommand(),
			keyRecoverCommand(),
		},
	}
}

func keyInitCommand() *cli.Command {
	var configPath string
	var force bool

	return &cli.Command{
		Name:    "init",
		Summary: "Generate a new protection key",
		Description: `Generate a fresh 256-bit protection key and write it to the
configured key path with mode 0600. Refuses to overwrite an existing
key unless --force is given: replacing the key invalidates every
signed request and every envelope encrypted under it.`,
		Usage: "warrant key init [--force]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.BoolVar(&force, "force", false, "overwrite an existing key")
			return flags
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if !force {
				if _, err := os.Stat(cfg.Paths.Key); err == nil {
					return fmt.Errorf("key already exists at %s (use --force to replace; "+
						"this invalidates all signed requests and envelopes)", cfg.Paths.Key)
				}
			}

			key, err := keystore.Generate()
			if err != nil {
				return err
			}
			defer keystore.Zero(key)
			if err := keystore.Write(cfg.Paths.Key, key); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", cfg.Paths.Key)
			return nil
		},
	}
}

func keyEscrowCommand() *cli.Command {
	var configPath string
	var recipients []string
	var output string

	return &cli.Command{
		Name:    "escrow",
		Summary: "Encrypt the protection key to age recipients",
		Description: `Encrypt the protection key to one or more age public keys and write
the escrowed ciphertext. Any one recipient identity can later recover
the key with 'warrant key recover'. Generate an identity pair with
age-keygen, or let recover print one for first use.`,
		Usage: "warrant key escrow --recipient <age-public-key>... [--output <path>]",
		Examples: []cli.Example{
			{
				Description: "Escrow to an operator recovery key",
				Command:     "warrant key escrow --recipient age1ql3z... --output key.escrow",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("escrow", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringArrayVar(&recipients, "recipient", nil, "age public key (repeatable, required)")
			flags.StringVar(&output, "output", "", "escrow file path (default: key path + .escrow)")
			return flags
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			if len(recipients) == 0 {
				return cli.Validation("at least one --recipient is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			key, err := keystore.Read(cfg.Paths.Key)
			if err != nil {
				return err
			}
			defer keystore.Zero(key)

			escrowed, err := keystore.Escrow(key, recipients)
			if err != nil {
				return err
			}

			if output == "" {
				output = cfg.Paths.Key + ".escrow"
			}
			if err := os.WriteFile(output, []byte(escrowed+"\n"), 0o600); err != nil {
				return fmt.Errorf("writing escrow file: %w", err)
			}
			fmt.Printf("wrote %s (recipients: %d)\n", output, len(recipients))
			return nil
		},
	}
}

func keyRecoverCommand() *cli.Command {
	var configPath string
	var escrowPath string
	var identityFile string

	return &cli.Command{
		Name:    "recover",
		Summary: "Recover the protection key from escrow",
		Description: `Decrypt an escrowed protection key with an age identity and write it
to the configured key path. Used after the original key file is lost
(disk failure, rebuilt machine) to make existing signed requests and
envelopes readable again.`,
		Usage: "warrant key recover --escrow <path> --identity-file <path>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("recover", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringVar(&escrowPath, "escrow", "", "escrow file path (required)")
			flags.StringVar(&identityFile, "identity-file", "", "age identity file (required)")
			return flags
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			if escrowPath == "" || identityFile == "" {
				return cli.Validation("--escrow and --identity-file are required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			escrowed, err := os.ReadFile(escrowPath)
			if err != nil {
				return fmt.Errorf("reading escrow file: %w", err)
			}
			identity, err := readIdentity(identityFile)
			if err != nil {
				return err
			}

			key, err := keystore.Recover(strings.TrimSpace(string(escrowed)), identity)
			if err != nil {
				return err
			}
			defer keystore.Zero(key)

			if err := keystore.Write(cfg.Paths.Key, key); err != nil {
				return err
			}
			fmt.Printf("recovered key to %s\n", cfg.Paths.Key)
			return nil
		},
	}
}

// readIdentity extracts the AGE-SECRET-KEY line from an identity
// file, tolerating the comment lines age-keygen writes.
func readIdentity(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading identity file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s: no AGE-SECRET-KEY line found", path)
}
