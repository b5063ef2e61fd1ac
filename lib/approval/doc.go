// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval implements the warrant lifecycle: an autonomous
// agent requests approval for a sensitive (server, tool, args) action,
// a human operator redeems the request with a phrase and a short code,
// and the guarded-tool wrapper consumes the approval at the moment the
// action executes.
//
// The package defends against three adversaries: the agent forging or
// replaying an approval it never received from the human, two
// concurrent processes racing to redeem the same approval twice, and
// credential exposure through the store file at rest.
//
// # State machine
//
// A standard request moves pending → approved → consumed (deleted),
// with expiry as an implicit terminal state from either side. A burst
// request is approved once and then consumed up to N times for the
// same (server, tool) pair regardless of arguments, provided
// consecutive uses fall within a rolling window; exhausting the count
// or letting the window lapse deletes it.
//
// # Integrity
//
// Every request carries HMAC-SHA256 signatures over its immutable
// fields, recomputed and re-verified at each redemption — never
// trusted from storage. Pending and approved states sign under
// different domains (and burst requests under a further domain pair),
// so a captured pending signature cannot be promoted into an approved
// one by editing the store file. When the protection key is absent,
// any record carrying signature fields is rejected outright: an
// unverifiable signed claim is never accepted as unsigned.
//
// # Concurrency
//
// Correctness is cross-process, not in-process: every store mutation
// happens inside a critical section guarded by an atomic-create lock
// file, and every store write is an atomic replace. Redemption paths
// fail closed when the lock cannot be acquired; creation proceeds
// best-effort with a warning, because an unlocked creation can at
// worst corrupt bookkeeping, never grant access.
package approval
