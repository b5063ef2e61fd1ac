// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/cmd/warrant/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands whose non-zero exit is a valid outcome (like a
		// denied check) return an ExitError after printing their own
		// output. Don't add a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(context.Background(), os.Args[1:], cli.NewCommandLogger())
}
