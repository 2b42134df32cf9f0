// Package optracker implements the Operation Tracker (C5): idempotent
// correlation of client_op_id to a single terminal ack:op/err:op envelope
// (spec §4.5). It mirrors the teacher's CQRS-style command/result idiom
// (eventprocessor/cqrs.go) but scoped to an in-process client session
// rather than a NATS command bus, per the design notes' "explicit result
// types" guidance.
package optracker

import (
	"sync"
	"time"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
)

// Status is the lifecycle of a tracked operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusAcked   Status = "acked"
	StatusErrored Status = "errored"
)

// Record is the OperationRecord from spec §3.
type Record struct {
	ClientOpID      string
	SessionID       string
	Status          Status
	ResultSnapshot  interface{}
	ErrKind         string
	ErrMessage      string
	CreatedAt       time.Time
}

// DefaultTTL is the idempotency window from spec §4.5.
const DefaultTTL = 2 * time.Minute

// Tracker correlates client_op_id to at-most-once terminal results.
type Tracker struct {
	ttl time.Duration

	mu      sync.Mutex
	records map[string]*Record // key: sessionID + "\x00" + clientOpID
}

// New creates a Tracker with the given idempotency TTL (DefaultTTL if zero).
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, records: make(map[string]*Record)}
}

func key(sessionID, clientOpID string) string {
	return sessionID + "\x00" + clientOpID
}

// RegisterResult reports what Register found: whether this is a fresh
// registration that the caller should execute, or a replay of a previous
// operation whose cached terminal record should be re-sent verbatim.
type RegisterResult struct {
	Fresh   bool
	Replay  *Record // non-nil when Fresh is false and a terminal record exists
	Pending bool    // true when Fresh is false and the operation hasn't completed yet
}

// Register claims client_op_id for sessionID. A duplicate submission within
// the TTL does not re-execute the action (spec §4.5, Testable Property #4):
// the caller should instead re-send the cached terminal envelope.
func (t *Tracker) Register(sessionID, clientOpID string) RegisterResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()

	k := key(sessionID, clientOpID)
	if existing, ok := t.records[k]; ok {
		if existing.Status == StatusPending {
			return RegisterResult{Fresh: false, Pending: true}
		}
		return RegisterResult{Fresh: false, Replay: existing}
	}

	t.records[k] = &Record{
		ClientOpID: clientOpID,
		SessionID:  sessionID,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	return RegisterResult{Fresh: true}
}

// Complete transitions client_op_id to Acked with the given result snapshot.
// Returns the finalized record, or nil if client_op_id was never registered
// (the "unknown_operation" case from spec §4.5).
func (t *Tracker) Complete(sessionID, clientOpID string, result interface{}) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key(sessionID, clientOpID)]
	if !ok {
		return nil
	}
	rec.Status = StatusAcked
	rec.ResultSnapshot = result
	return rec
}

// Fail transitions client_op_id to Errored with the given error kind/message.
// Returns the finalized record, or nil if client_op_id was never registered.
func (t *Tracker) Fail(sessionID, clientOpID, errKind, errMessage string) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key(sessionID, clientOpID)]
	if !ok {
		return nil
	}
	rec.Status = StatusErrored
	rec.ErrKind = errKind
	rec.ErrMessage = errMessage
	return rec
}

// Lookup returns the record for client_op_id without mutating it.
func (t *Tracker) Lookup(sessionID, clientOpID string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key(sessionID, clientOpID)]
	return rec, ok
}

// DiscardExpired removes the cached terminal record so that, per spec §5,
// an operation that timed out waiting for an ack no longer serves a stale
// cached reply once op_timeout has elapsed.
func (t *Tracker) DiscardExpired(sessionID, clientOpID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key(sessionID, clientOpID))
}

// Run executes a freshly-registered fn under the op_timeout invariant
// (spec §5): an operation unacked within ackTimeout is reported to the
// caller as a transient timeout immediately, rather than blocking the
// command path until fn eventually returns. Once fn does complete, its
// terminal record is discarded rather than left to serve a stale replay of
// a client_op_id the caller already saw fail as a timeout. ackTimeout <= 0
// disables the deadline and runs fn inline.
func (t *Tracker) Run(sessionID, clientOpID string, ackTimeout time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	if ackTimeout <= 0 {
		data, err := fn()
		t.finish(sessionID, clientOpID, data, err)
		return data, err
	}

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := fn()
		done <- outcome{data, err}
	}()

	select {
	case out := <-done:
		t.finish(sessionID, clientOpID, out.data, out.err)
		return out.data, out.err
	case <-time.After(ackTimeout):
		timeoutErr := apperr.Timeout("operation %s did not complete within op_timeout", clientOpID)
		t.Fail(sessionID, clientOpID, string(apperr.KindTimeout), timeoutErr.Error())
		go func() {
			<-done
			t.DiscardExpired(sessionID, clientOpID)
		}()
		return nil, timeoutErr
	}
}

func (t *Tracker) finish(sessionID, clientOpID string, data interface{}, err error) {
	if err != nil {
		t.Fail(sessionID, clientOpID, string(apperr.KindOf(err)), err.Error())
		return
	}
	t.Complete(sessionID, clientOpID, data)
}

// evictLocked drops records older than the TTL. Called with mu held.
func (t *Tracker) evictLocked() {
	cutoff := time.Now().Add(-t.ttl)
	for k, rec := range t.records {
		if rec.Status != StatusPending && rec.CreatedAt.Before(cutoff) {
			delete(t.records, k)
		}
	}
}
