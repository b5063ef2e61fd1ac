// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/envelope"
	"github.com/gentyr/warrant/lib/keystore"
)

func encryptCommand() *cli.Command {
	var configPath string
	var value string

	return &cli.Command{
		Name:    "encrypt",
		Summary: "Seal a credential value into an envelope",
		Description: `Encrypt a credential value under the envelope subkey of the
protection key and print the sealed envelope string. The envelope can
be stored in configuration files the agent reads; only a holder of
the protection key can open it.

The plaintext is read from stdin unless --value is given. Prefer
stdin: --value leaves the secret in shell history.`,
		Usage: "warrant encrypt [--value <secret>]",
		Examples: []cli.Example{
			{
				Description: "Seal a token read from stdin",
				Command:     "pass show api-token | warrant encrypt",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("encrypt", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringVar(&value, "value", "", "plaintext value (stdin when omitted)")
			return flags
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			plaintext, err := readValueInput(value)
			if err != nil {
				return err
			}

			key, err := envelopeKey(configPath)
			if err != nil {
				return err
			}
			defer keystore.Zero(key)

			sealed, err := envelope.Encrypt(plaintext, key)
			if err != nil {
				return err
			}
			fmt.Println(sealed)
			return nil
		},
	}
}

func decryptCommand() *cli.Command {
	var configPath string
	var value string

	return &cli.Command{
		Name:    "decrypt",
		Summary: "Open a sealed credential envelope",
		Description: `Decrypt an envelope produced by 'warrant encrypt' and print the
plaintext to stdout. Fails on anything that is not an intact envelope
under the current protection key; a tampered envelope never yields
partial plaintext.`,
		Usage: "warrant decrypt [--value <envelope>]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("decrypt", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringVar(&value, "value", "", "envelope string (stdin when omitted)")
			return flags
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			sealed, err := readValueInput(value)
			if err != nil {
				return err
			}
			sealed = strings.TrimSpace(sealed)
			if !envelope.IsEncrypted(sealed) {
				return cli.Validation("input is not a sealed envelope")
			}

			key, err := envelopeKey(configPath)
			if err != nil {
				return err
			}
			defer keystore.Zero(key)

			plaintext, ok := envelope.Decrypt(sealed, key)
			if !ok {
				return fmt.Errorf("envelope does not decrypt under the current key (tampered, truncated, or wrong key)")
			}
			fmt.Println(plaintext)
			return nil
		},
	}
}

// envelopeKey loads the protection key and derives the envelope
// subkey. The master key is zeroed before returning.
func envelopeKey(configPath string) ([]byte, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	masterKey, err := keystore.Read(cfg.Paths.Key)
	if err != nil {
		return nil, err
	}
	defer keystore.Zero(masterKey)
	return keystore.EnvelopeKey(masterKey)
}

// readValueInput returns the flag value, or all of stdin when the
// flag is empty.
func readValueInput(value string) (string, error) {
	if value != "" {
		return value, nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) == 0 {
		return "", cli.Validation("empty input")
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}
