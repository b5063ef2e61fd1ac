// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// Prefix opens every envelope. The version segment is part of the
	// prefix: a future format change bumps v1 and old values remain
	// distinguishable.
	Prefix = "WARRANT-ENC:v1:"

	// Suffix closes every envelope, making the end of the ciphertext
	// unambiguous even when an envelope is embedded mid-line in a
	// larger configuration value.
	Suffix = ":END"

	// NonceSize is the AES-GCM nonce size in bytes. The format uses a
	// full 128-bit random nonce per envelope rather than the 96-bit
	// GCM default; collisions are the only nonce hazard with random
	// generation, and 128 bits puts them out of reach.
	NonceSize = 16

	// tagSize is the GCM authentication tag size in bytes.
	tagSize = 16

	// keySize is the required AES-256 key size in bytes.
	keySize = 32
)

// Encrypt seals plaintext under key and returns the textual envelope.
// A fresh random nonce is generated per call, so encrypting the same
// plaintext twice yields different envelopes.
func Encrypt(plaintext string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating envelope nonce: %w", err)
	}

	// Seal appends the 16-byte tag to the ciphertext; the envelope
	// format carries the tag as its own segment.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	encode := base64.StdEncoding.EncodeToString
	return Prefix + encode(nonce) + ":" + encode(tag) + ":" + encode(ciphertext) + Suffix, nil
}

// Decrypt opens an envelope produced by Encrypt. The second return
// value is false for anything that is not a well-formed, authentic
// envelope under this key: wrong prefix or suffix, wrong segment
// count, invalid base64, or an authentication tag mismatch. No
// partial plaintext is ever returned.
func Decrypt(value string, key []byte) (string, bool) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", false
	}

	if !IsEncrypted(value) {
		return "", false
	}
	body := value[len(Prefix) : len(value)-len(Suffix)]

	segments := strings.Split(body, ":")
	if len(segments) != 3 {
		return "", false
	}

	decode := base64.StdEncoding.DecodeString
	nonce, err := decode(segments[0])
	if err != nil || len(nonce) != NonceSize {
		return "", false
	}
	tag, err := decode(segments[1])
	if err != nil || len(tag) != tagSize {
		return "", false
	}
	ciphertext, err := decode(segments[2])
	if err != nil {
		return "", false
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

// IsEncrypted reports whether value has the envelope shape. It checks
// only the prefix and suffix — a pure syntactic test that lets callers
// decide whether a stored configuration value needs decryption without
// having the key in hand.
func IsEncrypted(value string) bool {
	return len(value) > len(Prefix)+len(Suffix) &&
		strings.HasPrefix(value, Prefix) &&
		strings.HasSuffix(value, Suffix)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("envelope key is %d bytes, want %d", len(key), keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return aead, nil
}
