// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Event kinds recorded by the approval engine.
const (
	EventCreated       = "created"
	EventApproved      = "approved"
	EventConsumed      = "consumed"
	EventBurstUse      = "burst-use"
	EventExpiredPruned = "expired-pruned"
	EventForgery       = "forgery-deleted"
	EventWrongPhrase   = "wrong-phrase"
)

// Event is one line of the audit trail. Secrets never appear in
// events: no phrases, no argument payloads, no signatures — only the
// code (which is spent or dead by the time the trail matters) and the
// action identity.
type Event struct {
	// TimeMillis is the event wall-clock time in Unix milliseconds.
	TimeMillis int64 `json:"time_ms"`

	// Kind is one of the Event* constants.
	Kind string `json:"kind"`

	// Code is the approval code of the affected request.
	Code string `json:"code"`

	// Server and Tool identify the guarded action.
	Server string `json:"server,omitempty"`
	Tool   string `json:"tool,omitempty"`

	// Detail carries kind-specific context (e.g. which signature
	// failed, remaining burst uses).
	Detail string `json:"detail,omitempty"`
}

// DefaultMaxBytes is the rotation threshold when the caller does not
// set one.
const DefaultMaxBytes = 1 << 20

// Writer appends events to a JSONL file with size-based rotation.
// A nil *Writer is valid and discards every event, so callers can
// thread an optional trail without nil checks at every site.
type Writer struct {
	path     string
	maxBytes int64
}

// NewWriter returns a Writer appending to path, rotating when the
// file exceeds maxBytes (DefaultMaxBytes if maxBytes <= 0).
func NewWriter(path string, maxBytes int64) *Writer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Writer{path: path, maxBytes: maxBytes}
}

// Record appends one event. The returned error is informational —
// callers must treat a failed append as a logging problem, never as a
// protocol failure.
func (w *Writer) Record(event Event) error {
	if w == nil {
		return nil
	}
	if event.TimeMillis == 0 {
		event.TimeMillis = time.Now().UnixMilli()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}
	w.rotateIfNeeded()

	file, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening audit trail: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// rotateIfNeeded renames the active file aside and compresses it when
// it has grown past the threshold. Rotation failures are swallowed:
// the worst case is an oversized active file, which the next append
// retries.
func (w *Writer) rotateIfNeeded() {
	info, err := os.Stat(w.path)
	if err != nil || info.Size() < w.maxBytes {
		return
	}

	rotatedPath := fmt.Sprintf("%s.%s", w.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(w.path, rotatedPath); err != nil {
		return
	}
	if err := compressFile(rotatedPath, rotatedPath+".zst"); err == nil {
		os.Remove(rotatedPath)
	}
}

// compressFile zstd-compresses source into destination.
func compressFile(source, destination string) error {
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	encoder, err := zstd.NewWriter(output)
	if err != nil {
		output.Close()
		os.Remove(destination)
		return err
	}
	if _, err := io.Copy(encoder, input); err != nil {
		encoder.Close()
		output.Close()
		os.Remove(destination)
		return err
	}
	if err := encoder.Close(); err != nil {
		output.Close()
		os.Remove(destination)
		return err
	}
	if err := output.Close(); err != nil {
		os.Remove(destination)
		return err
	}
	return nil
}
