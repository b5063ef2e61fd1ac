// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
)

// Escrow encrypts the protection key to one or more operator age
// public keys (age1... format) and returns a standard base64 string
// suitable for offline storage. At least one recipient is required.
//
// An escrowed key lets an operator recover the envelope and signature
// subsystems after a lost key file without re-provisioning every
// encrypted configuration value.
func Escrow(key []byte, recipientKeys []string) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("protection key is %d bytes, want %d", len(key), KeySize)
	}
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one escrow recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, recipientKey := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(recipientKey)
		if err != nil {
			return "", fmt.Errorf("parsing escrow recipient %q: %w", recipientKey, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertextBuffer bytes.Buffer
	writer, err := age.Encrypt(&ciphertextBuffer, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(key); err != nil {
		return "", fmt.Errorf("writing key to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing escrow encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertextBuffer.Bytes()), nil
}

// Recover decrypts an escrowed protection key with the operator's age
// private key (AGE-SECRET-KEY-1... format). The caller should Write
// the recovered key back to the key file and Zero it afterwards.
func Recover(escrowed string, privateKey string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parsing escrow identity: %w", err)
	}

	rawCiphertext, err := base64.StdEncoding.DecodeString(escrowed)
	if err != nil {
		return nil, fmt.Errorf("decoding escrowed key: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(rawCiphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting escrowed key: %w", err)
	}
	key, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading recovered key: %w", err)
	}
	if len(key) != KeySize {
		Zero(key)
		return nil, fmt.Errorf("recovered key is %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

// GenerateEscrowIdentity generates a fresh age x25519 keypair for
// escrow use. Returns the private identity (AGE-SECRET-KEY-1...) and
// the public recipient (age1...). The private identity must be stored
// offline by the operator; it never touches the warrant data directory.
func GenerateEscrowIdentity() (privateKey, publicKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating escrow identity: %w", err)
	}
	return identity.String(), identity.Recipient().String(), nil
}
