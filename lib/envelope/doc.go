// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope provides authenticated encryption of credential
// strings for storage inside configuration files.
//
// An envelope is a delimited, versioned textual encoding of an
// AES-256-GCM ciphertext:
//
//	WARRANT-ENC:v1:{nonce-b64}:{tag-b64}:{ciphertext-b64}:END
//
// The textual format keeps encrypted values greppable and diffable:
// a configuration file full of envelopes can be committed to version
// control, and IsEncrypted lets callers decide whether a stored value
// needs decryption before use with a pure prefix/suffix check.
//
// Decrypt never panics and never returns partial plaintext: malformed
// envelopes and authentication failures both produce the (_, false)
// sentinel. Flipping any bit of the nonce, tag, or ciphertext segment
// makes decryption fail with overwhelming probability.
//
// Keys are 32 bytes, normally the envelope subkey derived by
// keystore.EnvelopeKey — never the master protection key directly.
package envelope
