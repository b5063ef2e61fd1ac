// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/gentyr/warrant/cmd/warrant/cli"
	"github.com/gentyr/warrant/lib/approval"
	"github.com/gentyr/warrant/lib/policy"
)

// requestParams holds the parameters for request.
type requestParams struct {
	configPath  string
	server      string
	tool        string
	args        string
	phrase      string
	ttl         time.Duration
	burst       bool
	burstUses   int
	burstWindow time.Duration
}

func requestCommand() *cli.Command {
	var params requestParams

	return &cli.Command{
		Name:    "request",
		Summary: "Create an approval request for a guarded action",
		Description: `Create a pending approval request and print the code a human must
redeem. This is the command an agent runs (or a wrapper runs on its
behalf) when policy says the action needs a human.

The approval phrase travels out of band: the operator chooses it and
tells the agent's requester through a trusted channel, never through
the agent itself. The request binds to the exact --args JSON; the
guarded tool must later present byte-equivalent arguments.

With --burst, the request is a counted pre-approval: policy burst
defaults for the matched rule apply unless --burst-uses and
--burst-window are given explicitly.`,
		Usage: "warrant request --server <id> --tool <name> --phrase <phrase> [flags]",
		Examples: []cli.Example{
			{
				Description: "Single-use approval bound to exact arguments",
				Command:     `warrant request --server github --tool merge_pr --args '{"pr":5}' --phrase "MERGE FIVE"`,
			},
			{
				Description: "Burst pre-approval for repeated restarts",
				Command:     `warrant request --server deploy --tool restart --phrase "RESTART OK" --burst --burst-uses 5 --burst-window 10m`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("request", pflag.ContinueOnError)
			flags.StringVar(&params.configPath, "config", "", "config file path (overrides WARRANT_CONFIG)")
			flags.StringVar(&params.server, "server", "", "server identifier (required)")
			flags.StringVar(&params.tool, "tool", "", "tool name (required)")
			flags.StringVar(&params.args, "args", "", "argument JSON the approval binds to (@file to read from a file)")
			flags.StringVar(&params.phrase, "phrase", "", "approval phrase (required)")
			flags.DurationVar(&params.ttl, "ttl", 0, "request lifetime (default from config)")
			flags.BoolVar(&params.burst, "burst", false, "create a counted pre-approval instead of a single-use approval")
			flags.IntVar(&params.burstUses, "burst-uses", 0, "maximum consumptions for --burst")
			flags.DurationVar(&params.burstWindow, "burst-window", 0, "rolling window between consumptions for --burst")
			return flags
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			if params.server == "" || params.tool == "" {
				return cli.Validation("--server and --tool are required")
			}
			if strings.TrimSpace(params.phrase) == "" {
				return cli.Validation("--phrase is required")
			}

			cfg, err := loadConfig(params.configPath)
			if err != nil {
				return err
			}

			argsJSON, err := readArgsInput(params.args)
			if err != nil {
				return err
			}

			burst, err := resolveBurst(&params, cfg.Paths.Policy)
			if err != nil {
				return err
			}

			engine, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			result, err := engine.Create(approval.CreateParams{
				Server: params.server,
				Tool:   params.tool,
				Args:   argsJSON,
				Phrase: params.phrase,
				TTL:    params.ttl,
				Burst:  burst,
			})
			if err != nil {
				return err
			}

			if !result.Signed {
				logger.Warn("request created without a signature; run `warrant key init`")
			}
			fmt.Println(result.Instruction)
			return nil
		},
	}
}

// readArgsInput parses the --args value: inline JSON, or @path to
// read a file.
func readArgsInput(value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	data := []byte(value)
	if strings.HasPrefix(value, "@") {
		var err error
		data, err = os.ReadFile(value[1:])
		if err != nil {
			return nil, fmt.Errorf("reading args file: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, cli.Validation("--args is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// resolveBurst combines --burst flags with policy defaults for the
// matched rule. Explicit flags win; a bare --burst with no policy
// defaults is an error because there is nothing to bound the grant.
func resolveBurst(params *requestParams, policyPath string) (*approval.BurstParams, error) {
	if !params.burst {
		if params.burstUses != 0 || params.burstWindow != 0 {
			return nil, cli.Validation("--burst-uses and --burst-window require --burst")
		}
		return nil, nil
	}

	uses := params.burstUses
	window := params.burstWindow
	if uses == 0 || window == 0 {
		rules, err := policy.ReadFile(policyPath)
		if err != nil {
			return nil, err
		}
		rule := rules.Match(params.server, params.tool)
		if rule != nil && rule.Burst != nil {
			if uses == 0 {
				uses = rule.Burst.Uses
			}
			if window == 0 {
				window = rule.Burst.Window()
			}
		}
	}
	if uses <= 0 || window <= 0 {
		return nil, cli.Validation("--burst needs --burst-uses and --burst-window, or policy burst defaults for %s/%s",
			params.server, params.tool)
	}
	return &approval.BurstParams{Uses: uses, Window: window}, nil
}
