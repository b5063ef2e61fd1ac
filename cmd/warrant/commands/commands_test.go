// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadArgsInput(t *testing.T) {
	if args, err := readArgsInput(""); err != nil || args != nil {
		t.Errorf("empty input = (%v, %v), want (nil, nil)", args, err)
	}

	args, err := readArgsInput(`{"pr":5}`)
	if err != nil {
		t.Fatalf("inline JSON: %v", err)
	}
	if string(args) != `{"pr":5}` {
		t.Errorf("args = %s", args)
	}

	if _, err := readArgsInput(`{broken`); err == nil {
		t.Error("malformed JSON accepted")
	}

	path := filepath.Join(t.TempDir(), "args.json")
	if err := os.WriteFile(path, []byte(`{"pr":6}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	args, err = readArgsInput("@" + path)
	if err != nil {
		t.Fatalf("file input: %v", err)
	}
	if string(args) != `{"pr":6}` {
		t.Errorf("file args = %s", args)
	}

	if _, err := readArgsInput("@" + filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing args file accepted")
	}
}

func TestResolveBurst(t *testing.T) {
	noPolicy := filepath.Join(t.TempDir(), "absent.jsonc")

	// Not a burst request: burst flags are rejected.
	params := &requestParams{burstUses: 3}
	if _, err := resolveBurst(params, noPolicy); err == nil {
		t.Error("burst flags without --burst accepted")
	}

	// Explicit flags win without a policy file.
	params = &requestParams{burst: true, burstUses: 3, burstWindow: time.Minute}
	burst, err := resolveBurst(params, noPolicy)
	if err != nil {
		t.Fatalf("resolveBurst: %v", err)
	}
	if burst.Uses != 3 || burst.Window != time.Minute {
		t.Errorf("burst = %+v", burst)
	}

	// Bare --burst with no defaults anywhere is an error.
	params = &requestParams{burst: true, server: "s", tool: "t"}
	if _, err := resolveBurst(params, noPolicy); err == nil {
		t.Error("unbounded burst accepted")
	}

	// Policy defaults fill in missing values.
	policyPath := filepath.Join(t.TempDir(), "policy.jsonc")
	document := `{"rules": [{"server": "s", "tool": "t", "burst": {"uses": 5, "window_seconds": 600}}]}`
	if err := os.WriteFile(policyPath, []byte(document), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	params = &requestParams{burst: true, server: "s", tool: "t"}
	burst, err = resolveBurst(params, policyPath)
	if err != nil {
		t.Fatalf("resolveBurst with policy: %v", err)
	}
	if burst.Uses != 5 || burst.Window != 10*time.Minute {
		t.Errorf("burst from policy = %+v", burst)
	}
}

func TestReadIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.txt")
	content := "# created: 2026-03-01\n# public key: age1abc\nAGE-SECRET-KEY-1EXAMPLE\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	identity, err := readIdentity(path)
	if err != nil {
		t.Fatalf("readIdentity: %v", err)
	}
	if identity != "AGE-SECRET-KEY-1EXAMPLE" {
		t.Errorf("identity = %q", identity)
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, []byte("# nothing here\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := readIdentity(empty); err == nil {
		t.Error("identity file without a key accepted")
	}
}
