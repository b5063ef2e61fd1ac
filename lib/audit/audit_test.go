// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	writer := NewWriter(path, 0)

	events := []Event{
		{Kind: EventCreated, Code: "ABCDEF", Server: "github", Tool: "merge"},
		{Kind: EventApproved, Code: "ABCDEF", Server: "github", Tool: "merge"},
		{Kind: EventForgery, Code: "QRSTUV", Server: "render", Tool: "deploy", Detail: "approved signature mismatch"},
	}
	for _, event := range events {
		if err := writer.Record(event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()

	var decoded []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		decoded = append(decoded, event)
	}
	if len(decoded) != len(events) {
		t.Fatalf("trail has %d events, want %d", len(decoded), len(events))
	}
	for index, event := range decoded {
		if event.Kind != events[index].Kind || event.Code != events[index].Code {
			t.Errorf("event %d = %+v, want kind %q code %q",
				index, event, events[index].Kind, events[index].Code)
		}
		if event.TimeMillis == 0 {
			t.Errorf("event %d has no timestamp", index)
		}
	}
}

func TestNilWriterDiscards(t *testing.T) {
	var writer *Writer
	if err := writer.Record(Event{Kind: EventCreated, Code: "ABCDEF"}); err != nil {
		t.Errorf("nil writer Record: %v", err)
	}
}

func TestRotation(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "audit.jsonl")
	writer := NewWriter(path, 256)

	for index := 0; index < 50; index++ {
		event := Event{Kind: EventConsumed, Code: "ABCDEF", Server: "github", Tool: "merge"}
		if err := writer.Record(event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var rotated int
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".zst") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Errorf("no compressed rotated segments found in %v", entries)
	}

	// The active file must still be small after rotation.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat active trail: %v", err)
	}
	if info.Size() > 1024 {
		t.Errorf("active trail is %d bytes after rotation", info.Size())
	}
}
