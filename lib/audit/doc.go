// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit appends approval lifecycle events to a local JSONL
// trail. Forgery detection in particular must be non-silent: when the
// engine deletes a record whose signature does not verify, the trail
// is the durable evidence that it happened.
//
// The trail is strictly best-effort. An unwritable audit file must
// never block or fail the approval protocol — callers log a warning
// and move on. Conversely, the trail is advisory evidence, not a
// security boundary: nothing verifies it, and the engine's
// signatures do not cover it.
//
// When the active file exceeds the configured size the writer rotates
// it: the file is renamed aside with a timestamp and compressed with
// zstd, keeping the active file small and the history cheap to retain.
package audit
