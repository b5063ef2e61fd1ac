// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore manages the warrant protection key: a single 256-bit
// symmetric secret persisted as one base64 line in a restricted-permission
// file. Every signature and every credential envelope in the system is
// keyed from this file.
//
// The key file is intended to be owned by a principal more privileged than
// the agent processes that call into the approval engine. This package
// enforces file mode 0600 on write; ownership is a deployment concern.
//
// A missing key file is a first-class outcome, not an error to log and
// ignore: Read returns ErrKeyAbsent (testable with errors.Is), and callers
// must treat records that carry signature fields as unverifiable — never
// as "unsigned, therefore trusted" — when the key is absent.
//
// The signing and envelope-encryption subsystems never use the master key
// directly. SigningKey and EnvelopeKey derive independent subkeys with
// HKDF-SHA256 under fixed info strings, so a weakness or miskeying in one
// domain cannot be replayed into the other.
//
// Escrow and Recover wrap the key in age encryption to operator-held
// recipients, so a lost key file can be recovered without re-provisioning
// every credential envelope that references it.
package keystore
