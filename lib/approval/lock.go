// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Lock is a cross-process mutex over the approval store, implemented
// as exclusive atomic file creation. The callers it serializes are
// independent OS processes sharing a filesystem, so no in-process
// primitive participates: the marker file's existence is the entire
// protocol. Its content (the holder PID) is advisory — used to
// reclaim locks from crashed holders early, but never authoritative.
type Lock struct {
	path     string
	acquired bool

	// sleep is swapped out in tests to keep the backoff deterministic.
	sleep func(time.Duration)
}

const (
	// lockRetryBase is the first backoff delay. The delay doubles on
	// each failed attempt; over lockRetryAttempts tries the total
	// sleep sums to roughly two seconds, the hard acquisition budget.
	lockRetryBase = 8 * time.Millisecond

	// lockRetryAttempts bounds the acquisition loop.
	lockRetryAttempts = 8

	// lockStaleAfter is the age beyond which a lock file is presumed
	// abandoned by a crashed holder and reclaimed. This bounds the
	// worst-case unavailability after a crash while holding the lock.
	lockStaleAfter = 10 * time.Second
)

// NewLock returns an unacquired lock over the marker file at path.
func NewLock(path string) *Lock {
	return &Lock{path: path, sleep: time.Sleep}
}

// Acquire attempts to take the lock, retrying with exponential
// backoff for roughly two seconds. A lock file older than the
// staleness threshold, or whose recorded holder process no longer
// exists, is deleted and retried immediately.
//
// A false return means the store must be treated as unavailable. The
// redemption paths reject their operation outright in that case;
// only request creation is allowed to proceed unlocked (see Engine).
func (l *Lock) Acquire() bool {
	delay := lockRetryBase
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		if l.tryAcquire() {
			l.acquired = true
			return true
		}
		if l.reclaimStale() {
			// The stale marker is gone; retry without burning a
			// backoff interval.
			continue
		}
		l.sleep(delay)
		delay *= 2
	}
	return false
}

// Release deletes the marker file if this process holds it.
// Releasing an unacquired lock is a no-op. The recorded holder PID is
// re-checked first: if the marker was reclaimed from us during a
// stall and now belongs to another process, it is left alone.
func (l *Lock) Release() {
	if !l.acquired {
		return
	}
	l.acquired = false
	if pid, ok := l.holderPID(); ok && pid != os.Getpid() {
		return
	}
	os.Remove(l.path)
}

// tryAcquire performs the atomic create-if-absent. On success the
// holder PID is written for diagnostics and early stale detection.
func (l *Lock) tryAcquire() bool {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return false
	}
	file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	file.Close()
	return true
}

// reclaimStale deletes the lock file if its holder has demonstrably
// gone away: either the file is older than the staleness threshold,
// or the PID it records no longer names a live process. Returns true
// if a reclaim happened (including the benign race where the holder
// released between our check and our remove).
//
// The marker is moved to a unique name before deletion. The rename is
// atomic, so of several contenders that judged the same marker stale
// exactly one wins; the losers see the path gone and retry without
// touching it. A direct remove here could delete a marker that a
// faster contender had already reclaimed and re-created.
func (l *Lock) reclaimStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Lock already gone — the holder released it.
		return true
	}

	stale := time.Since(info.ModTime()) > lockStaleAfter
	if !stale {
		pid, ok := l.holderPID()
		if !ok || processAlive(pid) {
			return false
		}
	}

	aside := fmt.Sprintf("%s.stale.%d", l.path, os.Getpid())
	if err := os.Rename(l.path, aside); err != nil {
		// Another contender reclaimed it first.
		return true
	}
	if moved, err := os.Stat(aside); err == nil && !os.SameFile(info, moved) {
		// The marker was replaced between the staleness check and the
		// rename: we grabbed a live holder's fresh marker. Put it back.
		os.Rename(aside, l.path)
		return false
	}
	os.Remove(aside)
	return true
}

// holderPID reads the advisory PID from the lock file.
func (l *Lock) holderPID() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes a PID with signal 0. ESRCH means the process is
// gone and the lock can be reclaimed; EPERM means it exists but is
// owned by someone else, which still counts as alive.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
