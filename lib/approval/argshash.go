// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// argsDomainKey is the 32-byte BLAKE3 key for argument digests. The
// byte values are the ASCII encoding of the domain name, zero-padded:
// readable in hex dumps without sacrificing any cryptographic
// property. Changing it invalidates every stored args hash.
var argsDomainKey = [32]byte{
	'w', 'a', 'r', 'r', 'a', 'n', 't', '.',
	'a', 'r', 'g', 's', '.', 'v', '1',
}

// HashArgs computes the collision-resistant digest that binds an
// approval to its exact argument payload. The payload is first
// canonicalized (JSON with object keys sorted at every nesting level,
// no insignificant whitespace) so that two serializations of the same
// arguments always produce the same digest. Returns a lowercase hex
// string.
//
// A human approving "delete record A" must not be redeemable against
// "delete record B": the engine compares this digest exactly at
// consumption time.
func HashArgs(args json.RawMessage) (string, error) {
	canonical, err := canonicalizeArgs(args)
	if err != nil {
		return "", err
	}

	hasher, err := blake3.NewKeyed(argsDomainKey[:])
	if err != nil {
		// NewKeyed fails only for a wrong key length, which the
		// fixed-size array rules out.
		panic("approval: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// canonicalizeArgs produces the canonical JSON serialization of args.
// Decoding into interface values and re-encoding normalizes key order
// (encoding/json sorts map keys at every level) and whitespace.
func canonicalizeArgs(args json.RawMessage) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing arguments: %w", err)
	}
	return canonical, nil
}
