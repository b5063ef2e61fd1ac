// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// CodeAlphabet is the symbol set for approval codes. It drops the
// visually ambiguous characters (0/O, 1/I/L) from [A-Z0-9], leaving 31
// symbols: a human reading the code from one screen and typing it on
// another cannot confuse two symbols. Codes are uniformly sampled with
// rejection, so every symbol is equally likely.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the number of symbols in an approval code. Six
// symbols over a 31-symbol alphabet is ~29.7 bits — far beyond the
// collision budget of a store that holds a handful of live requests,
// while staying short enough to type from a phone screen.
const CodeLength = 6

// NewCode generates a random approval code. Uniqueness among live
// requests is probabilistic (full cryptographic randomness), not
// enforced by the store.
func NewCode() (string, error) {
	var builder strings.Builder
	builder.Grow(CodeLength)

	// Rejection sampling: a random byte is accepted only below the
	// largest multiple of the alphabet size, so the modulo is unbiased.
	limit := byte(256 / len(CodeAlphabet) * len(CodeAlphabet))
	buffer := make([]byte, 1)
	for builder.Len() < CodeLength {
		if _, err := rand.Read(buffer); err != nil {
			return "", fmt.Errorf("generating approval code: %w", err)
		}
		if buffer[0] >= limit {
			continue
		}
		builder.WriteByte(CodeAlphabet[int(buffer[0])%len(CodeAlphabet)])
	}
	return builder.String(), nil
}

// NormalizeCode canonicalizes operator input: surrounding whitespace
// is trimmed and letters are uppercased, so a code pasted with a
// trailing newline or typed in lowercase still matches.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the exact length and alphabet of
// a generated approval code. Callers should normalize first.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, symbol := range code {
		if !strings.ContainsRune(CodeAlphabet, symbol) {
			return false
		}
	}
	return true
}
