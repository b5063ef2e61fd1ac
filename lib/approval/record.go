// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/json"
	"time"
)

// Kind discriminates the two request variants. The store holds both
// in the same map; Kind (together with the Burst sub-record, present
// exactly when Kind is KindBurst) replaces the loosely-typed optional
// fields a dynamic representation would use.
type Kind string

const (
	// KindStandard is a single-use approval bound to an exact
	// argument digest.
	KindStandard Kind = "standard"

	// KindBurst is a pre-approval: up to N argument-agnostic uses of
	// the same (server, tool) pair within a rolling window.
	KindBurst Kind = "burst"
)

// Status is the request state. There is no stored "expired" status:
// expiry is derived from ExpiresAtMillis at every read, and expired
// entries are pruned by whichever operation encounters them.
type Status string

const (
	// StatusPending means the request awaits human redemption.
	StatusPending Status = "pending"

	// StatusApproved means the human redeemed the request and it can
	// be consumed by the guarded-tool wrapper.
	StatusApproved Status = "approved"
)

// Burst holds the consumption state of a burst pre-approval.
type Burst struct {
	// UsesRemaining is how many consumptions are left. Reaching zero
	// deletes the record.
	UsesRemaining int `json:"uses_remaining"`

	// WindowMillis is the rolling window: once a use has occurred,
	// the next use must come within this many milliseconds of the
	// previous one or the burst is treated as expired.
	WindowMillis int64 `json:"window_ms"`

	// LastUsedMillis is the Unix-milliseconds timestamp of the most
	// recent consumption. Zero until the first use.
	LastUsedMillis int64 `json:"last_used_ms,omitempty"`
}

// Request is one approval request, keyed in the store by Code.
//
// All wall-clock fields are Unix milliseconds. The signature fields
// (PendingHMAC, ApprovedHMAC) are hex HMAC-SHA256 digests over the
// immutable fields; they are recomputed and compared at every
// redemption, never trusted from storage. Empty signature fields mark
// a request created while the protection key was unreadable — an
// explicit degraded mode that survives only as long as the key stays
// absent.
type Request struct {
	// Code is the 6-character human-typed token.
	Code string `json:"code"`

	// Server and Tool identify the guarded action.
	Server string `json:"server"`
	Tool   string `json:"tool"`

	// Args is the exact argument payload the approval is bound to.
	// May be nil for actions without arguments.
	Args json.RawMessage `json:"args,omitempty"`

	// ArgsHash is the hex digest of the canonical serialization of
	// Args. Empty when Args is nil, in which case the approval is not
	// argument-bound.
	ArgsHash string `json:"args_hash,omitempty"`

	// Phrase is the human-memorable string the approver must
	// reproduce (compared case-insensitively).
	Phrase string `json:"phrase"`

	// Status is pending or approved.
	Status Status `json:"status"`

	// CreatedAtMillis and ExpiresAtMillis bound the request lifetime.
	CreatedAtMillis int64 `json:"created_at_ms"`
	ExpiresAtMillis int64 `json:"expires_at_ms"`

	// PendingHMAC signs (code, server, tool, args hash, expiry) under
	// the pending domain at creation time.
	PendingHMAC string `json:"pending_hmac,omitempty"`

	// ApprovedHMAC signs the same fields under the approved domain,
	// stamped when the human redeems the request.
	ApprovedHMAC string `json:"approved_hmac,omitempty"`

	// Kind discriminates standard and burst requests.
	Kind Kind `json:"kind"`

	// Burst is present exactly when Kind is KindBurst.
	Burst *Burst `json:"burst,omitempty"`
}

// IsBurst reports whether the request is a burst pre-approval.
func (r *Request) IsBurst() bool {
	return r.Kind == KindBurst && r.Burst != nil
}

// ExpiredAt reports whether the request's wall-clock expiry has
// passed at the given instant.
func (r *Request) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiresAtMillis
}

// ExpiresAt returns the expiry as a time.Time for display.
func (r *Request) ExpiresAt() time.Time {
	return time.UnixMilli(r.ExpiresAtMillis)
}
