// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"path"
	"strings"
)

// matchPattern checks an identifier against a glob pattern:
//
//   - Exact match: "github" matches only "github"
//   - Single-segment wildcards: "db-*" matches "db-staging" but "*"
//     does not cross "/" boundaries
//   - Universal: "**" matches any identifier
//   - Recursive suffix: "infra/**" matches "infra/dns" and
//     "infra/aws/route53". The ** also matches zero segments, so
//     "infra/**" matches the bare "infra" itself
//
// Returns false for malformed patterns rather than propagating
// errors: a malformed pattern must never widen a rule's reach.
func matchPattern(pattern, identifier string) bool {
	if pattern == "**" {
		return true
	}

	if !strings.Contains(pattern, "**") {
		matched, err := path.Match(pattern, identifier)
		return err == nil && matched
	}

	// Recursive suffix: match the prefix exactly or with glob
	// wildcards, then any deeper segments.
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		if matched, err := path.Match(prefix, identifier); err == nil && matched {
			return true
		}
		depth := strings.Count(prefix, "/") + 1
		segments := strings.SplitN(identifier, "/", depth+1)
		if len(segments) <= depth {
			return false
		}
		candidate := strings.Join(segments[:depth], "/")
		matched, err := path.Match(prefix, candidate)
		return err == nil && matched
	}

	// Other ** placements are not supported. Deny.
	return false
}
