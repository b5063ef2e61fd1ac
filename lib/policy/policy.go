// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// BurstDefaults are the pre-approval parameters a rule suggests for
// its actions. They are advisory: the operator still approves the
// resulting request by phrase and code.
type BurstDefaults struct {
	// Uses is the maximum number of consumptions.
	Uses int `json:"uses"`

	// WindowSeconds is the rolling window between consecutive
	// consumptions, in seconds.
	WindowSeconds int `json:"window_seconds"`
}

// Window returns the rolling window as a duration.
func (b *BurstDefaults) Window() time.Duration {
	return time.Duration(b.WindowSeconds) * time.Second
}

// Rule matches a set of guarded actions.
type Rule struct {
	// Server is a glob pattern over server identifiers.
	Server string `json:"server"`

	// Tool is a glob pattern over tool names.
	Tool string `json:"tool"`

	// Burst, when present, supplies pre-approval defaults for
	// actions this rule matches.
	Burst *BurstDefaults `json:"burst,omitempty"`
}

// Policy is an ordered rule list.
type Policy struct {
	Rules []Rule `json:"rules"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the rule list.
func Parse(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var parsed Policy
	if err := json.Unmarshal(stripped, &parsed); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	for i, rule := range parsed.Rules {
		if rule.Server == "" || rule.Tool == "" {
			return nil, fmt.Errorf("policy rule %d: server and tool patterns are required", i)
		}
		if rule.Burst != nil && (rule.Burst.Uses <= 0 || rule.Burst.WindowSeconds <= 0) {
			return nil, fmt.Errorf("policy rule %d: burst uses and window must be positive", i)
		}
	}
	return &parsed, nil
}

// ReadFile reads and parses a JSONC policy file. A missing file is an
// empty policy, not an error: an absent policy guards nothing.
func ReadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	parsed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}

// Match returns the first rule matching (server, tool), or nil when
// no rule matches and the action needs no approval.
func (p *Policy) Match(server, tool string) *Rule {
	for i := range p.Rules {
		rule := &p.Rules[i]
		if matchPattern(rule.Server, server) && matchPattern(rule.Tool, tool) {
			return rule
		}
	}
	return nil
}

// RequiresApproval reports whether any rule matches the action.
func (p *Policy) RequiresApproval(server, tool string) bool {
	return p.Match(server, tool) != nil
}
