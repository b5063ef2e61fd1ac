// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info strings. These provide domain separation between the two
// key derivation paths: a signing key compromise cannot be converted
// into an envelope decryption capability, and vice versa. Changing
// either string invalidates all existing signatures or ciphertext in
// that domain.
var (
	hkdfInfoSigning  = []byte("warrant.sign.v1")
	hkdfInfoEnvelope = []byte("warrant.envelope.v1")
)

// SigningKey derives the HMAC signing subkey from the master
// protection key. The master key is borrowed and not zeroed.
func SigningKey(masterKey []byte) ([]byte, error) {
	return deriveKey(masterKey, hkdfInfoSigning)
}

// EnvelopeKey derives the AES-256-GCM envelope subkey from the master
// protection key. The master key is borrowed and not zeroed.
func EnvelopeKey(masterKey []byte) ([]byte, error) {
	return deriveKey(masterKey, hkdfInfoEnvelope)
}

func deriveKey(masterKey, info []byte) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key is %d bytes, want %d", len(masterKey), KeySize)
	}
	derived := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, masterKey, nil, info)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("deriving subkey: %w", err)
	}
	return derived, nil
}
