// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gentyr/warrant/lib/audit"
	"github.com/gentyr/warrant/lib/keystore"
)

// Machine-checkable reason strings returned in decisions. These are
// stable API: callers (and the human operator, who sees them verbatim)
// branch on them.
const (
	ReasonUnavailable  = "unavailable"
	ReasonInvalidInput = "invalid input"
	ReasonUnknownCode  = "unknown code"
	ReasonExpired      = "expired"
	ReasonAlreadyUsed  = "already used"
	ReasonWrongPhrase  = "wrong phrase"
	ReasonForgery      = "forgery"
	ReasonUnverifiable = "unverifiable"
	ReasonExhausted    = "exhausted"
	ReasonNotApproved  = "not approved"
)

// ErrInvalidInput marks malformed caller input (empty server/tool,
// unparseable arguments, bad burst parameters).
var ErrInvalidInput = errors.New("approval: invalid input")

// DefaultTTL is the request lifetime when CreateParams does not set
// one: long enough for a human to walk to another terminal, short
// enough that a forgotten request does not linger.
const DefaultTTL = 15 * time.Minute

// Engine is the approval state machine. It owns no open resources —
// every operation is a complete load-modify-save critical section
// over the store file — so a single Engine value can be shared freely
// and independent processes pointing at the same paths compose
// correctly through the lock.
type Engine struct {
	storePath string
	lockPath  string
	keyPath   string
	ttl       time.Duration
	logger    *slog.Logger
	trail     *audit.Writer
}

// Options configures an Engine.
type Options struct {
	// StorePath is the approval store JSON document.
	StorePath string

	// LockPath is the lock marker file. Defaults to StorePath + ".lock".
	LockPath string

	// KeyPath is the protection key file.
	KeyPath string

	// TTL is the default request lifetime. Defaults to DefaultTTL.
	TTL time.Duration

	// Logger receives operational warnings (unsigned creation, lock
	// degradation, audit failures). Defaults to slog.Default().
	Logger *slog.Logger

	// Trail is the optional audit trail. Nil discards events.
	Trail *audit.Writer
}

// New returns an Engine over the given paths.
func New(options Options) *Engine {
	lockPath := options.LockPath
	if lockPath == "" {
		lockPath = options.StorePath + ".lock"
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		storePath: options.StorePath,
		lockPath:  lockPath,
		keyPath:   options.KeyPath,
		ttl:       ttl,
		logger:    logger,
		trail:     options.Trail,
	}
}

// BurstParams requests a burst pre-approval instead of a single-use
// approval.
type BurstParams struct {
	// Uses is the maximum number of consumptions.
	Uses int

	// Window is the rolling window between consecutive consumptions.
	Window time.Duration
}

// CreateParams describes the approval being requested.
type CreateParams struct {
	// Server and Tool identify the guarded action.
	Server string
	Tool   string

	// Args is the exact argument payload the approval binds to. Nil
	// leaves the approval argument-agnostic.
	Args json.RawMessage

	// Phrase is the approval phrase the operator must reproduce.
	Phrase string

	// TTL overrides the engine default lifetime when positive.
	TTL time.Duration

	// Burst, when non-nil, makes this a burst pre-approval.
	Burst *BurstParams
}

// CreateResult reports a created request.
type CreateResult struct {
	// Code is the token the operator will type.
	Code string

	// Instruction is a human-facing string describing how to approve.
	Instruction string

	// Signed is false when the protection key was unreadable and the
	// request was created without signatures (degraded mode).
	Signed bool

	// ExpiresAt is the request deadline.
	ExpiresAt time.Time
}

// ValidateDecision is the outcome of a human redemption attempt.
type ValidateDecision struct {
	// Approved is true when the request transitioned to approved.
	Approved bool

	// Reason is the machine-checkable rejection reason ("" on success).
	Reason string

	// ExpectedPhrase is set on a wrong-phrase rejection so the
	// operator can retry before expiry. The request stays pending.
	ExpectedPhrase string
}

// ConsumeDecision is the outcome of a caller redemption attempt.
type ConsumeDecision struct {
	// Approved is true when a matching approval was consumed.
	Approved bool

	// Reason is the machine-checkable rejection reason ("" on success).
	Reason string

	// Request is the consumed record on success (after any burst
	// bookkeeping was applied).
	Request *Request
}

// Create generates a code, signs the request with the currently
// readable protection key, and persists it. Creation is the
// best-effort half of the protocol: a missing key produces an
// unsigned request (explicit, logged, auditable), and a failed lock
// acquisition produces a warning rather than a rejection — an
// unlocked creation can at worst corrupt bookkeeping, never grant
// access. Only redemption fails closed.
func (e *Engine) Create(params CreateParams) (*CreateResult, error) {
	return e.CreateAt(params, time.Now())
}

// CreateAt is Create with an explicit current time, for deterministic
// expiry testing.
func (e *Engine) CreateAt(params CreateParams, now time.Time) (*CreateResult, error) {
	if params.Server == "" || params.Tool == "" {
		return nil, fmt.Errorf("%w: server and tool are required", ErrInvalidInput)
	}
	if strings.TrimSpace(params.Phrase) == "" {
		return nil, fmt.Errorf("%w: approval phrase is required", ErrInvalidInput)
	}
	if params.Burst != nil && (params.Burst.Uses <= 0 || params.Burst.Window <= 0) {
		return nil, fmt.Errorf("%w: burst uses and window must be positive", ErrInvalidInput)
	}

	code, err := NewCode()
	if err != nil {
		return nil, err
	}

	var argsHash string
	if len(params.Args) > 0 {
		argsHash, err = HashArgs(params.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	ttl := params.TTL
	if ttl <= 0 {
		ttl = e.ttl
	}

	request := &Request{
		Code:            code,
		Server:          params.Server,
		Tool:            params.Tool,
		Args:            params.Args,
		ArgsHash:        argsHash,
		Phrase:          params.Phrase,
		Status:          StatusPending,
		CreatedAtMillis: now.UnixMilli(),
		ExpiresAtMillis: now.Add(ttl).UnixMilli(),
		Kind:            KindStandard,
	}
	if params.Burst != nil {
		request.Kind = KindBurst
		request.Burst = &Burst{
			UsesRemaining: params.Burst.Uses,
			WindowMillis:  params.Burst.Window.Milliseconds(),
		}
	}

	signed := false
	if signingKey := e.signingKey(); signingKey != nil {
		request.PendingHMAC = signRequest(signingKey, pendingDomain(request.Kind), request)
		keystore.Zero(signingKey)
		signed = true
	}

	lock := NewLock(e.lockPath)
	if lock.Acquire() {
		defer lock.Release()
	} else {
		// Best-effort by design: see the package comment and the
		// asymmetry note on Validate/CheckAndConsume.
		e.logger.Warn("creating approval request without store lock",
			"server", params.Server, "tool", params.Tool)
	}

	store, _, err := LoadStore(e.storePath)
	if err != nil {
		return nil, err
	}
	e.pruneExpired(store, now)
	store.Approvals[code] = request
	if err := SaveStore(e.storePath, store); err != nil {
		return nil, err
	}

	e.record(audit.Event{
		TimeMillis: now.UnixMilli(),
		Kind:       audit.EventCreated,
		Code:       code,
		Server:     params.Server,
		Tool:       params.Tool,
		Detail:     fmt.Sprintf("kind=%s signed=%t", request.Kind, signed),
	})

	expiresAt := time.UnixMilli(request.ExpiresAtMillis)
	instruction := fmt.Sprintf(
		"Approval required for %s/%s. Run `warrant approve %s` and enter the approval phrase before %s.",
		params.Server, params.Tool, code, expiresAt.Format(time.RFC3339))

	return &CreateResult{
		Code:        code,
		Instruction: instruction,
		Signed:      signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// Validate is the human-redemption half of the protocol: the operator
// submits the phrase (from the trusted side channel) and the code
// (read from the agent's instruction string). On success the request
// flips to approved and is re-signed under the approved domain.
//
// Validate fails closed on lock acquisition — unlike Create — because
// two racing validations could otherwise both observe a pending
// request.
func (e *Engine) Validate(phrase, code string) (*ValidateDecision, error) {
	return e.ValidateAt(phrase, code, time.Now())
}

// ValidateAt is Validate with an explicit current time.
func (e *Engine) ValidateAt(phrase, code string, now time.Time) (*ValidateDecision, error) {
	code = NormalizeCode(code)
	if strings.TrimSpace(phrase) == "" || !ValidCode(code) {
		return &ValidateDecision{Reason: ReasonInvalidInput}, nil
	}

	lock := NewLock(e.lockPath)
	if !lock.Acquire() {
		return &ValidateDecision{Reason: ReasonUnavailable}, nil
	}
	defer lock.Release()

	store, _, err := LoadStore(e.storePath)
	if err != nil {
		return nil, err
	}

	request, ok := store.Approvals[code]
	if !ok {
		return &ValidateDecision{Reason: ReasonUnknownCode}, nil
	}

	if request.ExpiredAt(now) {
		delete(store.Approvals, code)
		if err := SaveStore(e.storePath, store); err != nil {
			return nil, err
		}
		e.recordFor(request, now, audit.EventExpiredPruned, "expired at validation")
		return &ValidateDecision{Reason: ReasonExpired}, nil
	}

	if request.Status == StatusApproved {
		return &ValidateDecision{Reason: ReasonAlreadyUsed}, nil
	}

	if !strings.EqualFold(strings.TrimSpace(phrase), strings.TrimSpace(request.Phrase)) {
		e.recordFor(request, now, audit.EventWrongPhrase, "")
		return &ValidateDecision{
			Reason:         ReasonWrongPhrase,
			ExpectedPhrase: request.Phrase,
		}, nil
	}

	signingKey := e.signingKey()
	if signingKey != nil {
		defer keystore.Zero(signingKey)
		// The signature is recomputed from the record's immutable
		// fields, never trusted from storage. A mismatch (including a
		// record the key should have signed but did not) is forgery:
		// the entry is deleted so it cannot be retried.
		if !verifySignature(signingKey, pendingDomain(request.Kind), request, request.PendingHMAC) {
			delete(store.Approvals, code)
			if err := SaveStore(e.storePath, store); err != nil {
				return nil, err
			}
			e.recordFor(request, now, audit.EventForgery, "pending signature mismatch at validation")
			return &ValidateDecision{Reason: ReasonForgery}, nil
		}
	} else if request.PendingHMAC != "" {
		// No key, but the record claims a signature. Fail closed: an
		// unverifiable signed claim is never accepted as unsigned.
		// The record is kept — it is not provably forged, and the key
		// may come back.
		return &ValidateDecision{Reason: ReasonUnverifiable}, nil
	}

	request.Status = StatusApproved
	if signingKey != nil {
		request.ApprovedHMAC = signRequest(signingKey, approvedDomain(request.Kind), request)
	}
	if err := SaveStore(e.storePath, store); err != nil {
		return nil, err
	}
	e.recordFor(request, now, audit.EventApproved, "")
	return &ValidateDecision{Approved: true}, nil
}

// CheckAndConsume is the caller-redemption half, invoked at the
// moment the guarded action is about to execute. It scans for an
// approved, unexpired request matching (server, tool) and the exact
// argument digest, verifies both signatures, and consumes it —
// deleting a standard approval (exactly-once) or decrementing a burst
// pre-approval. Lock acquisition fails closed: "unavailable" is
// always preferred over the chance of a double redemption.
func (e *Engine) CheckAndConsume(server, tool string, args json.RawMessage) (*ConsumeDecision, error) {
	return e.CheckAndConsumeAt(server, tool, args, time.Now())
}

// CheckAndConsumeAt is CheckAndConsume with an explicit current time.
func (e *Engine) CheckAndConsumeAt(server, tool string, args json.RawMessage, now time.Time) (*ConsumeDecision, error) {
	if server == "" || tool == "" {
		return &ConsumeDecision{Reason: ReasonInvalidInput}, nil
	}
	var currentHash string
	if len(args) > 0 {
		var err error
		currentHash, err = HashArgs(args)
		if err != nil {
			return &ConsumeDecision{Reason: ReasonInvalidInput}, nil
		}
	}

	lock := NewLock(e.lockPath)
	if !lock.Acquire() {
		return &ConsumeDecision{Reason: ReasonUnavailable}, nil
	}
	defer lock.Release()

	store, _, err := LoadStore(e.storePath)
	if err != nil {
		return nil, err
	}

	signingKey := e.signingKey()
	if signingKey != nil {
		defer keystore.Zero(signingKey)
	}

	scan := &consumeScan{
		engine:     e,
		store:      store,
		signingKey: signingKey,
		now:        now,
	}
	scan.pruneExpired()

	// Exact-match pass: standard approvals bound to this argument
	// digest (or argument-agnostic if stored without one).
	decision := scan.standardPass(server, tool, currentHash)
	if decision == nil {
		// Pre-approval pass: burst entries for the same (server,
		// tool), argument-agnostic by construction.
		decision = scan.burstPass(server, tool)
	}

	// Deletions accumulated from pruning and forgery detection are
	// persisted even when nothing was consumed.
	if scan.dirty {
		if err := SaveStore(e.storePath, store); err != nil {
			return nil, err
		}
	}

	if decision != nil {
		return decision, nil
	}
	return &ConsumeDecision{Reason: scan.failureReason()}, nil
}

// consumeScan tracks the state of one CheckAndConsume critical
// section: which deletions have accumulated and what the most
// specific failure reason is if nothing is consumed.
type consumeScan struct {
	engine     *Engine
	store      *Store
	signingKey []byte
	now        time.Time

	dirty           bool
	sawForgery      bool
	sawExhausted    bool
	sawUnverifiable bool
}

// pruneExpired removes every expired entry in the store, regardless
// of whether it matches the current call. Expiry removal is a side
// effect of whichever operation encounters it.
func (s *consumeScan) pruneExpired() {
	for code, request := range s.store.Approvals {
		if request.ExpiredAt(s.now) {
			delete(s.store.Approvals, code)
			s.dirty = true
			s.engine.recordFor(request, s.now, audit.EventExpiredPruned, "expired at consumption")
		}
	}
}

// standardPass implements the exact-match pass. Returns a decision on
// success, nil to fall through to the burst pass.
func (s *consumeScan) standardPass(server, tool, currentHash string) *ConsumeDecision {
	for _, code := range s.sortedCodes() {
		request := s.store.Approvals[code]
		if request == nil || request.IsBurst() || request.Status != StatusApproved {
			continue
		}
		if request.Server != server || request.Tool != tool {
			continue
		}
		// Argument binding: a stored digest must match exactly. A
		// mismatched entry is left alone — it may be consumed later
		// by a call with the arguments it was actually approved for.
		if request.ArgsHash != "" && request.ArgsHash != currentHash {
			continue
		}
		if !s.verifyBoth(code, request) {
			continue
		}

		delete(s.store.Approvals, code)
		s.dirty = true
		s.engine.recordFor(request, s.now, audit.EventConsumed, "")
		return &ConsumeDecision{Approved: true, Request: request}
	}
	return nil
}

// burstPass implements the pre-approval pass: argument-agnostic,
// counted, and bounded by the rolling window between consecutive uses.
func (s *consumeScan) burstPass(server, tool string) *ConsumeDecision {
	for _, code := range s.sortedCodes() {
		request := s.store.Approvals[code]
		if request == nil || !request.IsBurst() || request.Status != StatusApproved {
			continue
		}
		if request.Server != server || request.Tool != tool {
			continue
		}
		if !s.verifyBoth(code, request) {
			continue
		}

		if request.Burst.UsesRemaining <= 0 {
			delete(s.store.Approvals, code)
			s.dirty = true
			s.sawExhausted = true
			continue
		}
		if request.Burst.LastUsedMillis > 0 &&
			s.now.UnixMilli()-request.Burst.LastUsedMillis > request.Burst.WindowMillis {
			// The rolling window lapsed between uses: the burst is
			// spent even though uses remained.
			delete(s.store.Approvals, code)
			s.dirty = true
			s.sawExhausted = true
			s.engine.recordFor(request, s.now, audit.EventExpiredPruned, "burst window lapsed")
			continue
		}

		request.Burst.UsesRemaining--
		request.Burst.LastUsedMillis = s.now.UnixMilli()
		if request.Burst.UsesRemaining <= 0 {
			// Final use: consume and delete, same as a standard
			// approval's exactly-once deletion.
			delete(s.store.Approvals, code)
		}
		s.dirty = true
		s.engine.recordFor(request, s.now, audit.EventBurstUse,
			fmt.Sprintf("uses_remaining=%d", request.Burst.UsesRemaining))
		return &ConsumeDecision{Approved: true, Request: request}
	}
	return nil
}

// verifyBoth checks the pending and approved signatures for the
// request's domain pair. With a key in hand, any mismatch — including
// a record that carries no signature at all — is forgery: the entry
// is deleted on the spot and the scan continues. Without a key, a
// record carrying signature fields is unverifiable and skipped
// (fail-closed, but not deleted: it is not provably forged); a record
// with no signature fields was legitimately created in degraded mode
// and passes.
func (s *consumeScan) verifyBoth(code string, request *Request) bool {
	if s.signingKey == nil {
		if request.PendingHMAC != "" || request.ApprovedHMAC != "" {
			s.sawUnverifiable = true
			return false
		}
		return true
	}

	pendingOK := verifySignature(s.signingKey, pendingDomain(request.Kind), request, request.PendingHMAC)
	approvedOK := verifySignature(s.signingKey, approvedDomain(request.Kind), request, request.ApprovedHMAC)
	if pendingOK && approvedOK {
		return true
	}

	detail := "pending signature mismatch at consumption"
	if pendingOK {
		detail = "approved signature mismatch at consumption"
	}
	delete(s.store.Approvals, code)
	s.dirty = true
	s.sawForgery = true
	s.engine.recordFor(request, s.now, audit.EventForgery, detail)
	return false
}

// failureReason picks the most specific reason observed during a scan
// that consumed nothing.
func (s *consumeScan) failureReason() string {
	switch {
	case s.sawForgery:
		return ReasonForgery
	case s.sawExhausted:
		return ReasonExhausted
	case s.sawUnverifiable:
		return ReasonUnverifiable
	}
	return ReasonNotApproved
}

// sortedCodes returns the store's codes in lexical order so scans are
// deterministic across runs (map iteration order is not).
func (s *consumeScan) sortedCodes() []string {
	codes := make([]string, 0, len(s.store.Approvals))
	for code := range s.store.Approvals {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// pruneExpired removes expired entries during creation, keeping the
// store from accumulating dead requests.
func (e *Engine) pruneExpired(store *Store, now time.Time) {
	for code, request := range store.Approvals {
		if request.ExpiredAt(now) {
			delete(store.Approvals, code)
			e.recordFor(request, now, audit.EventExpiredPruned, "expired at creation")
		}
	}
}

// signingKey reads the protection key and derives the signing subkey.
// Returns nil when the key is absent or unreadable — the degraded
// mode every caller must handle fail-closed for signature-bearing
// records. The distinction between "absent" and "unreadable" matters
// only for the log line.
func (e *Engine) signingKey() []byte {
	masterKey, err := keystore.Read(e.keyPath)
	if errors.Is(err, keystore.ErrKeyAbsent) {
		e.logger.Warn("protection key absent; signature-bearing records will be rejected")
		return nil
	}
	if err != nil {
		e.logger.Warn("protection key unreadable; signature-bearing records will be rejected", "error", err)
		return nil
	}
	defer keystore.Zero(masterKey)

	signingKey, err := keystore.SigningKey(masterKey)
	if err != nil {
		e.logger.Warn("deriving signing key failed", "error", err)
		return nil
	}
	return signingKey
}

// record appends an audit event, logging (never failing) on error.
func (e *Engine) record(event audit.Event) {
	if err := e.trail.Record(event); err != nil {
		e.logger.Warn("audit append failed", "error", err)
	}
}

// recordFor is record with the request's identity fields filled in.
func (e *Engine) recordFor(request *Request, now time.Time, kind, detail string) {
	e.record(audit.Event{
		TimeMillis: now.UnixMilli(),
		Kind:       kind,
		Code:       request.Code,
		Server:     request.Server,
		Tool:       request.Tool,
		Detail:     detail,
	})
}
