// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Signature domains. The domain literal is the first field folded
// into the HMAC input, so a signature computed in one domain never
// verifies in another: an attacker holding a captured pending
// signature cannot present it as an approved one, and a burst
// signature cannot stand in for a standard one. Changing any literal
// invalidates all stored signatures in that domain.
const (
	domainPending       = "warrant.pending.v1"
	domainApproved      = "warrant.approved.v1"
	domainBurstPending  = "warrant.burst.pending.v1"
	domainBurstApproved = "warrant.burst.approved.v1"
)

// fieldSeparator joins HMAC input fields. The fields are a fixed
// domain literal, a code and server/tool names validated to be
// non-empty identifiers, a hex digest, and a decimal timestamp — none
// can contain the separator, so the joined encoding is unambiguous.
const fieldSeparator = "|"

// pendingDomain returns the pending-state signature domain for a
// request kind.
func pendingDomain(kind Kind) string {
	if kind == KindBurst {
		return domainBurstPending
	}
	return domainPending
}

// approvedDomain returns the approved-state signature domain for a
// request kind.
func approvedDomain(kind Kind) string {
	if kind == KindBurst {
		return domainBurstApproved
	}
	return domainApproved
}

// signRequest computes the hex HMAC-SHA256 signature of a request's
// immutable fields under the given domain. The signed fields are
// exactly those that define what was approved: the code, the guarded
// action, the argument binding, and the expiry. Mutable bookkeeping
// (status, burst counters, timestamps of use) is deliberately outside
// the signature — it changes under the lock, and forging it grants
// nothing the signature does not already bind.
func signRequest(signingKey []byte, domain string, request *Request) string {
	fields := []string{
		domain,
		request.Code,
		request.Server,
		request.Tool,
		request.ArgsHash,
		strconv.FormatInt(request.ExpiresAtMillis, 10),
	}
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(strings.Join(fields, fieldSeparator)))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature recomputes the signature and compares it to the
// stored hex digest in constant time. An empty stored digest never
// verifies: absence of a signature is not a valid signature.
func verifySignature(signingKey []byte, domain string, request *Request, stored string) bool {
	if stored == "" {
		return false
	}
	storedBytes, err := hex.DecodeString(stored)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(signRequest(signingKey, domain, request))
	if err != nil {
		return false
	}
	return hmac.Equal(storedBytes, expected)
}
