package services

import (
	"sync"
	"time"
)

const (
	// maxStatusRetries is how many consecutive status failures are tolerated before suppression.
	maxStatusRetries = 3
	// suppressWindow is how long status polls for a task stay local after too many failures.
	suppressWindow = 40 * time.Second
)

// RetryState is the status-poll backoff entry for one task name.
type RetryState struct {
	Retries       int
	SuppressUntil time.Time // zero when not suppressed
}

// RetryLedger tracks consecutive status failures per task name.
//
// Entries are created on first failure, cleared on success or explicit stop, and reset on the
// first call after their suppression deadline has passed.
type RetryLedger struct {
	mu      sync.Mutex
	entries map[string]RetryState
	now     func() time.Time
}

// NewRetryLedger creates an empty ledger. A nil clock defaults to [time.Now].
func NewRetryLedger(now func() time.Time) *RetryLedger {
	if now == nil {
		now = time.Now
	}
	return &RetryLedger{entries: make(map[string]RetryState), now: now}
}

// Allow reports whether a status request for name may reach the device.
func (l *RetryLedger) Allow(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.entries[name]
	if !ok || st.SuppressUntil.IsZero() {
		return true
	}
	if st.SuppressUntil.After(l.now()) {
		return false
	}
	l.entries[name] = RetryState{}
	return true
}

// Failure records one failed status request and returns the updated state.
func (l *RetryLedger) Failure(name string) RetryState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.entries[name]
	st.Retries++
	if st.Retries > maxStatusRetries {
		st.SuppressUntil = l.now().Add(suppressWindow)
	}
	l.entries[name] = st
	return st
}

// Success resets the entry for name.
func (l *RetryLedger) Success(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = RetryState{}
}

// Clear drops the entry for name entirely.
func (l *RetryLedger) Clear(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, name)
}

// State returns the current entry for name.
func (l *RetryLedger) State(name string) (RetryState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.entries[name]
	return st, ok
}
