// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides which guarded actions require human approval.
//
// A policy is a JSONC document (JSON extended with // line comments,
// /* block comments */, and trailing commas) listing rules. Each rule
// names a server pattern and a tool pattern; patterns support glob
// wildcards (* and ?), the universal "**", and the hierarchical
// suffix "prefix/**" for servers with namespaced identifiers. A rule
// may also carry burst defaults, which callers pass through to
// request creation when the operator asks for a pre-approval.
//
// Matching is first-match-wins in file order, so specific rules go
// before broad ones. An action matching no rule does not require
// approval: the policy is an allowlist of dangerous actions, not a
// gate on everything.
package policy
