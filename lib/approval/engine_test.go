// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/gentyr/warrant/lib/keystore"
)

func testEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "protection.key")
	key, err := keystore.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := keystore.Write(keyPath, key); err != nil {
		t.Fatalf("Write key: %v", err)
	}
	engine := New(Options{
		StorePath: filepath.Join(dir, "approvals.json"),
		KeyPath:   keyPath,
	})
	return engine, dir
}

// approve drives a request through creation and validation, returning
// the code.
func approve(t *testing.T, engine *Engine, params CreateParams, now time.Time) string {
	t.Helper()
	created, err := engine.CreateAt(params, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}
	decision, err := engine.ValidateAt(params.Phrase, created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if !decision.Approved {
		t.Fatalf("ValidateAt rejected: %q", decision.Reason)
	}
	return created.Code
}

func TestApprovalLifecycle(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	args := json.RawMessage(`{"cluster":"prod","replicas":3}`)

	created, err := engine.CreateAt(CreateParams{
		Server: "k8s",
		Tool:   "scale",
		Args:   args,
		Phrase: "APPROVE PROD",
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}
	if !created.Signed {
		t.Error("request should be signed when the key is readable")
	}
	if !ValidCode(created.Code) {
		t.Errorf("invalid code %q", created.Code)
	}
	if created.Instruction == "" {
		t.Error("missing instruction")
	}

	// Consuming before approval must fail with "not approved".
	decision, err := engine.CheckAndConsumeAt("k8s", "scale", args, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonNotApproved {
		t.Errorf("pre-approval consume = %+v, want not approved", decision)
	}

	// Phrase comparison is case-insensitive and whitespace-tolerant.
	validated, err := engine.ValidateAt("  approve prod ", created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if !validated.Approved {
		t.Fatalf("ValidateAt rejected: %q", validated.Reason)
	}

	decision, err = engine.CheckAndConsumeAt("k8s", "scale", args, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if !decision.Approved {
		t.Fatalf("consume rejected: %q", decision.Reason)
	}
	if decision.Request == nil || decision.Request.Code != created.Code {
		t.Errorf("consumed wrong request: %+v", decision.Request)
	}

	// Exactly-once: the second consumption must fail.
	decision, err = engine.CheckAndConsumeAt("k8s", "scale", args, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonNotApproved {
		t.Errorf("second consume = %+v, want not approved", decision)
	}
}

func TestValidateInputRejection(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()

	for _, test := range []struct {
		name   string
		phrase string
		code   string
		reason string
	}{
		{"empty phrase", "", "ABCDEF", ReasonInvalidInput},
		{"short code", "YES", "ABC", ReasonInvalidInput},
		{"excluded letters", "YES", "OOOOOO", ReasonInvalidInput},
		{"unknown code", "YES", "ABCDEF", ReasonUnknownCode},
	} {
		t.Run(test.name, func(t *testing.T) {
			decision, err := engine.ValidateAt(test.phrase, test.code, now)
			if err != nil {
				t.Fatalf("ValidateAt: %v", err)
			}
			if decision.Approved || decision.Reason != test.reason {
				t.Errorf("decision = %+v, want reason %q", decision, test.reason)
			}
		})
	}
}

func TestValidateWrongPhrase(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()

	created, err := engine.CreateAt(CreateParams{
		Server: "db", Tool: "drop", Phrase: "REALLY DROP IT",
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}

	decision, err := engine.ValidateAt("wrong guess", created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonWrongPhrase {
		t.Fatalf("decision = %+v, want wrong phrase", decision)
	}
	if decision.ExpectedPhrase != "REALLY DROP IT" {
		t.Errorf("ExpectedPhrase = %q", decision.ExpectedPhrase)
	}

	// The request stays pending and can still be approved.
	decision, err = engine.ValidateAt("really drop it", created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt retry: %v", err)
	}
	if !decision.Approved {
		t.Errorf("retry rejected: %q", decision.Reason)
	}
}

func TestValidateAlreadyApproved(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()
	code := approve(t, engine, CreateParams{
		Server: "s", Tool: "t", Phrase: "OK",
	}, now)

	decision, err := engine.ValidateAt("OK", code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonAlreadyUsed {
		t.Errorf("decision = %+v, want already used", decision)
	}
}

func TestExpiry(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := engine.CreateAt(CreateParams{
		Server: "s", Tool: "t", Phrase: "OK", TTL: time.Minute,
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}

	late := now.Add(time.Minute)
	decision, err := engine.ValidateAt("OK", created.Code, late)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonExpired {
		t.Errorf("decision = %+v, want expired", decision)
	}

	// Expiry removes the entry: a later lookup sees no code at all.
	decision, err = engine.ValidateAt("OK", created.Code, late)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if decision.Reason != ReasonUnknownCode {
		t.Errorf("reason after prune = %q, want unknown code", decision.Reason)
	}
}

func TestExpiryBetweenApprovalAndConsumption(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	approve(t, engine, CreateParams{
		Server: "s", Tool: "t", Phrase: "OK", TTL: time.Minute,
	}, now)

	decision, err := engine.CheckAndConsumeAt("s", "t", nil, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonNotApproved {
		t.Errorf("decision = %+v, want not approved after expiry prune", decision)
	}
}

func TestArgumentBinding(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()
	argsFive := json.RawMessage(`{"pr": 5}`)
	argsSix := json.RawMessage(`{"pr": 6}`)

	approve(t, engine, CreateParams{
		Server: "github", Tool: "merge", Args: argsFive, Phrase: "MERGE FIVE",
	}, now)

	// Different arguments must not consume the approval, and must not
	// destroy it either.
	decision, err := engine.CheckAndConsumeAt("github", "merge", argsSix, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonNotApproved {
		t.Errorf("mismatched args decision = %+v, want not approved", decision)
	}

	// Key order must not matter, only content.
	decision, err = engine.CheckAndConsumeAt("github", "merge", json.RawMessage(`{ "pr" : 5 }`), now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if !decision.Approved {
		t.Errorf("matching args rejected: %q", decision.Reason)
	}
}

func TestForgedApprovalDetected(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()

	created, err := engine.CreateAt(CreateParams{
		Server: "s", Tool: "t", Phrase: "OK",
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}

	// Forge the approval by editing the store directly, as an agent
	// with file access would.
	store, _, err := LoadStore(engine.storePath)
	if err != nil {
		t.Fatalf("LoadStore: %v", err)
	}
	request := store.Approvals[created.Code]
	request.Status = StatusApproved
	request.ApprovedHMAC = "0000000000000000000000000000000000000000000000000000000000000000"
	if err := SaveStore(engine.storePath, store); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}

	decision, err := engine.CheckAndConsumeAt("s", "t", nil, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonForgery {
		t.Errorf("decision = %+v, want forgery", decision)
	}

	// The forged entry must have been deleted.
	store, _, err = LoadStore(engine.storePath)
	if err != nil {
		t.Fatalf("LoadStore after forgery: %v", err)
	}
	if _, ok := store.Approvals[created.Code]; ok {
		t.Error("forged entry was not deleted")
	}
}

func TestForgedPendingDetectedAtValidation(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()

	created, err := engine.CreateAt(CreateParams{
		Server: "s", Tool: "t", Phrase: "OK",
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}

	// Tamper with a signed field after creation.
	store, _, err := LoadStore(engine.storePath)
	if err != nil {
		t.Fatalf("LoadStore: %v", err)
	}
	store.Approvals[created.Code].Server = "other"
	if err := SaveStore(engine.storePath, store); err != nil {
		t.Fatalf("SaveStore: %v", err)
	}

	decision, err := engine.ValidateAt("OK", created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonForgery {
		t.Errorf("decision = %+v, want forgery", decision)
	}
}

func TestMissingKeySignedRecordsUnverifiable(t *testing.T) {
	engine, dir := testEngine(t)
	now := time.Now()
	approve(t, engine, CreateParams{
		Server: "s", Tool: "t", Phrase: "OK",
	}, now)

	// Same store, but the key file is gone.
	keyless := New(Options{
		StorePath: engine.storePath,
		KeyPath:   filepath.Join(dir, "missing.key"),
	})

	decision, err := keyless.CheckAndConsumeAt("s", "t", nil, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonUnverifiable {
		t.Errorf("decision = %+v, want unverifiable", decision)
	}

	// The record is kept: restoring the key makes it consumable again.
	decision, err = engine.CheckAndConsumeAt("s", "t", nil, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt with key: %v", err)
	}
	if !decision.Approved {
		t.Errorf("consume after key restore rejected: %q", decision.Reason)
	}
}

func TestMissingKeyDegradedMode(t *testing.T) {
	dir := t.TempDir()
	engine := New(Options{
		StorePath: filepath.Join(dir, "approvals.json"),
		KeyPath:   filepath.Join(dir, "missing.key"),
	})
	now := time.Now()

	// With no key anywhere, the whole lifecycle runs unsigned.
	created, err := engine.CreateAt(CreateParams{
		Server: "s", Tool: "t", Phrase: "OK",
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}
	if created.Signed {
		t.Error("request should be unsigned without a key")
	}

	decision, err := engine.ValidateAt("OK", created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if !decision.Approved {
		t.Fatalf("ValidateAt rejected: %q", decision.Reason)
	}

	consume, err := engine.CheckAndConsumeAt("s", "t", nil, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if !consume.Approved {
		t.Errorf("consume rejected: %q", consume.Reason)
	}
}

func TestKeyedEngineRejectsUnsignedRecord(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "approvals.json")
	keyPath := filepath.Join(dir, "protection.key")

	keyless := New(Options{StorePath: storePath, KeyPath: keyPath})
	now := time.Now()
	created, err := keyless.CreateAt(CreateParams{
		Server: "s", Tool: "t", Phrase: "OK",
	}, now)
	if err != nil {
		t.Fatalf("CreateAt: %v", err)
	}

	// Key appears after the unsigned record was written. With a key
	// in hand, an unsigned record is indistinguishable from a forged
	// one and must be deleted.
	key, err := keystore.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := keystore.Write(keyPath, key); err != nil {
		t.Fatalf("Write key: %v", err)
	}

	decision, err := keyless.ValidateAt("OK", created.Code, now)
	if err != nil {
		t.Fatalf("ValidateAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonForgery {
		t.Errorf("decision = %+v, want forgery", decision)
	}
}

func TestBurstLifecycle(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	approve(t, engine, CreateParams{
		Server: "deploy", Tool: "restart", Phrase: "RESTART BURST",
		Burst: &BurstParams{Uses: 3, Window: time.Minute},
	}, now)

	// Three uses, each with different arguments, inside the window.
	for i := 0; i < 3; i++ {
		at := now.Add(time.Duration(i) * 30 * time.Second)
		args := json.RawMessage(`{"attempt":` + string(rune('0'+i)) + `}`)
		decision, err := engine.CheckAndConsumeAt("deploy", "restart", args, at)
		if err != nil {
			t.Fatalf("CheckAndConsumeAt use %d: %v", i, err)
		}
		if !decision.Approved {
			t.Fatalf("use %d rejected: %q", i, decision.Reason)
		}
	}

	// Fourth use: exhausted and gone.
	decision, err := engine.CheckAndConsumeAt("deploy", "restart", nil, now.Add(90*time.Second))
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonNotApproved {
		t.Errorf("fourth use = %+v, want not approved", decision)
	}
}

func TestBurstWindowLapse(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	approve(t, engine, CreateParams{
		Server: "deploy", Tool: "restart", Phrase: "RESTART BURST",
		Burst: &BurstParams{Uses: 5, Window: time.Minute},
	}, now)

	decision, err := engine.CheckAndConsumeAt("deploy", "restart", nil, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if !decision.Approved {
		t.Fatalf("first use rejected: %q", decision.Reason)
	}

	// More than a window after the last use, remaining uses are void.
	decision, err = engine.CheckAndConsumeAt("deploy", "restart", nil, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonExhausted {
		t.Errorf("post-window use = %+v, want exhausted", decision)
	}
}

func TestStandardPreferredOverBurst(t *testing.T) {
	engine, _ := testEngine(t)
	now := time.Now()
	args := json.RawMessage(`{"x":1}`)

	approve(t, engine, CreateParams{
		Server: "s", Tool: "t", Phrase: "BURST",
		Burst: &BurstParams{Uses: 2, Window: time.Hour},
	}, now)
	standardCode := approve(t, engine, CreateParams{
		Server: "s", Tool: "t", Args: args, Phrase: "ONCE",
	}, now)

	// The exact-match standard approval is consumed first; the burst
	// is untouched.
	decision, err := engine.CheckAndConsumeAt("s", "t", args, now)
	if err != nil {
		t.Fatalf("CheckAndConsumeAt: %v", err)
	}
	if !decision.Approved || decision.Request.Code != standardCode {
		t.Errorf("decision = %+v, want standard approval %s", decision, standardCode)
	}

	store, _, err := LoadStore(engine.storePath)
	if err != nil {
		t.Fatalf("LoadStore: %v", err)
	}
	for _, request := range store.Approvals {
		if request.IsBurst() && request.Burst.UsesRemaining != 2 {
			t.Errorf("burst uses = %d, want 2 untouched", request.Burst.UsesRemaining)
		}
	}
}

func TestCreateInvalidInput(t *testing.T) {
	engine, _ := testEngine(t)
	for _, test := range []struct {
		name   string
		params CreateParams
	}{
		{"empty server", CreateParams{Tool: "t", Phrase: "OK"}},
		{"empty tool", CreateParams{Server: "s", Phrase: "OK"}},
		{"blank phrase", CreateParams{Server: "s", Tool: "t", Phrase: "  "}},
		{"bad args", CreateParams{Server: "s", Tool: "t", Phrase: "OK", Args: json.RawMessage(`{`)}},
		{"zero burst uses", CreateParams{Server: "s", Tool: "t", Phrase: "OK", Burst: &BurstParams{Uses: 0, Window: time.Minute}}},
		{"zero burst window", CreateParams{Server: "s", Tool: "t", Phrase: "OK", Burst: &BurstParams{Uses: 3}}},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := engine.Create(test.params); err == nil {
				t.Error("Create accepted invalid input")
			}
		})
	}
}

func TestConsumeInvalidInput(t *testing.T) {
	engine, _ := testEngine(t)
	decision, err := engine.CheckAndConsume("", "t", nil)
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonInvalidInput {
		t.Errorf("decision = %+v, want invalid input", decision)
	}
}

func TestConsumeUnavailableWhenLocked(t *testing.T) {
	engine, _ := testEngine(t)

	// A live holder (this process) keeps the lock for the whole retry
	// schedule. Redemption must fail closed rather than proceed
	// unlocked.
	holder := NewLock(engine.lockPath)
	if !holder.Acquire() {
		t.Fatal("could not take the lock")
	}
	defer holder.Release()

	decision, err := engine.CheckAndConsume("s", "t", nil)
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if decision.Approved || decision.Reason != ReasonUnavailable {
		t.Errorf("decision = %+v, want unavailable", decision)
	}
}
