// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the full code → request mapping, persisted as one JSON
// document. It is created lazily on first save and must only be read
// or written while holding the store lock (except at creation time,
// which is best-effort by design).
type Store struct {
	Approvals map[string]*Request `json:"approvals"`
}

// LoadOutcome says which path Load took. Tests and audits can assert
// on it; callers that only need the data ignore it.
type LoadOutcome int

const (
	// LoadedFresh means the store file did not exist yet.
	LoadedFresh LoadOutcome = iota

	// LoadedExisting means the file existed and parsed cleanly.
	LoadedExisting

	// RecoveredCorrupt means the file existed but did not parse; the
	// load recovered by starting from an empty store. The corrupt
	// content is abandoned — the next save overwrites it atomically.
	RecoveredCorrupt
)

// String returns the outcome name for logs and test failures.
func (o LoadOutcome) String() string {
	switch o {
	case LoadedFresh:
		return "fresh"
	case LoadedExisting:
		return "existing"
	case RecoveredCorrupt:
		return "recovered-corrupt"
	}
	return fmt.Sprintf("LoadOutcome(%d)", int(o))
}

// LoadStore reads the approval store from path. A missing file yields
// an empty store (LoadedFresh); a file that fails to parse yields an
// empty store (RecoveredCorrupt) — corruption must never turn a
// best-effort read into a process-ending failure. Only genuine read
// errors (permissions, I/O) are returned as errors.
func LoadStore(path string) (*Store, LoadOutcome, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyStore(), LoadedFresh, nil
	}
	if err != nil {
		return nil, LoadedFresh, fmt.Errorf("reading approval store: %w", err)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return emptyStore(), RecoveredCorrupt, nil
	}
	if store.Approvals == nil {
		store.Approvals = make(map[string]*Request)
	}
	return &store, LoadedExisting, nil
}

// SaveStore atomically replaces the store file: the document is
// written to a uniquely named temporary file in the same directory,
// synced, and renamed over the destination. A failure at any step
// removes the temporary file and leaves the canonical file untouched —
// no reader ever observes a truncated store.
func SaveStore(path string, store *Store) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling approval store: %w", err)
	}
	data = append(data, '\n')

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating approval store directory: %w", err)
	}

	temporary, err := os.CreateTemp(directory, "approvals-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary store file: %w", err)
	}
	temporaryPath := temporary.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(temporaryPath)
		}
	}()

	if err := temporary.Chmod(0600); err != nil {
		temporary.Close()
		return fmt.Errorf("restricting temporary store file: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing temporary store file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("syncing temporary store file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing temporary store file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("renaming store file into place: %w", err)
	}
	success = true

	// Sync the parent directory so the rename survives power loss.
	parent, err := os.Open(directory)
	if err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

func emptyStore() *Store {
	return &Store{Approvals: make(map[string]*Request)}
}
