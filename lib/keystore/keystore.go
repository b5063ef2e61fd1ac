// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeySize is the size in bytes of the protection key. All derived
// subkeys (signing, envelope encryption) are the same size.
const KeySize = 32

// ErrKeyAbsent is returned by Read when the key file does not exist.
// Absence is a distinct, first-class outcome: the approval engine
// degrades to fail-closed verification when the key is absent, which
// is different from an unreadable or corrupt key file (a plain error).
var ErrKeyAbsent = errors.New("keystore: protection key file absent")

// Generate returns a fresh random protection key.
func Generate() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating protection key: %w", err)
	}
	return key, nil
}

// Read loads the protection key from path. The file holds a single
// base64 line (standard encoding, trailing whitespace tolerated).
//
// Returns ErrKeyAbsent when the file does not exist. Any other failure
// (permission denied, malformed base64, wrong decoded length) is an
// ordinary error: the file exists but cannot be trusted, and callers
// must not fall back to treating records as unsigned.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("reading protection key: %w", err)
	}

	encoded := trimLine(data)
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	Zero(data)
	if err != nil {
		return nil, fmt.Errorf("decoding protection key: %w", err)
	}
	if len(key) != KeySize {
		Zero(key)
		return nil, fmt.Errorf("protection key is %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

// Write persists the key to path as a single base64 line with file
// mode 0600. The write is atomic (uniquely named temp file in the
// same directory, then rename) so a crash mid-write never leaves a
// truncated key file and concurrent writers never interleave into
// the same temp file.
func Write(path string, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("protection key is %d bytes, want %d", len(key), KeySize)
	}

	encoded := base64.StdEncoding.EncodeToString(key) + "\n"

	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary key file: %w", err)
	}
	temporaryPath := file.Name()

	if err := file.Chmod(0600); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("restricting temporary key file: %w", err)
	}
	if _, err := file.WriteString(encoded); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary key file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary key file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary key file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming key file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Zero overwrites b with zeros. Call it on key material as soon as it
// is no longer needed.
func Zero(b []byte) {
	for index := range b {
		b[index] = 0
	}
}

// trimLine strips trailing newline and whitespace bytes from a
// single-line key file without allocating.
func trimLine(data []byte) []byte {
	end := len(data)
	for end > 0 {
		switch data[end-1] {
		case '\n', '\r', ' ', '\t':
			end--
		default:
			return data[:end]
		}
	}
	return data[:0]
}
