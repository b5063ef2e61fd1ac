// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/approval"
)

func listCommand() *cli.Command {
	var configPath string
	var all bool

	return &cli.Command{
		Name:    "list",
		Summary: "List approval requests in the store",
		Description: `List the requests in the approval store. By default expired entries
are hidden; --all shows them. This is a read-only view: nothing is
pruned, consumed, or verified.`,
		Usage: "warrant list [--all]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.BoolVar(&all, "all", false, "include expired entries")
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

			store, _, err := approval.LoadStore(cfg.Paths.Store)
			if err != nil {
				return err
			}

			now := time.Now()
			codes := make([]string, 0, len(store.Approvals))
			for code, request := range store.Approvals {
				if !all && request.ExpiredAt(now) {
					continue
				}
				codes = append(codes, code)
			}
			sort.Strings(codes)

			if len(codes) == 0 {
				fmt.Println("no approval requests")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "CODE\tSERVER\tTOOL\tKIND\tSTATUS\tEXPIRES")
			for _, code := range codes {
				request := store.Approvals[code]
				status := string(request.Status)
				if request.ExpiredAt(now) {
					status = "expired"
				}
				kind := string(request.Kind)
				if request.IsBurst() && request.Burst != nil {
					kind = fmt.Sprintf("burst(%d)", request.Burst.UsesRemaining)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					code, request.Server, request.Tool, kind, status,
					request.ExpiresAt().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
