// Package audit keeps the record of payment notification decisions: what the
// provider was sent, what it answered, and what the reconciler concluded.
package audit

import (
	"sync"
	"time"
)

// Stages of notification handling.
const (
	StageVerify    = "verify"
	StageReconcile = "reconcile"
	StageFreeClaim = "free_claim"
)

// Entry is one audited decision.
type Entry struct {
	Time          time.Time `json:"time"`
	Stage         string    `json:"stage"`
	Outcome       string    `json:"outcome"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ProviderTxnID string    `json:"provider_txn_id,omitempty"`
	Request       string    `json:"request,omitempty"`
	Response      string    `json:"response,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// Sink persists entries outside the process.
type Sink interface {
	Write(entry Entry) error
}

// Journal keeps the most recent entries in memory and forwards every entry to
// an optional sink.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	sink    Sink
	now     func() time.Time
}

// NewJournal creates a journal holding up to max entries in memory.
func NewJournal(max int, sink Sink) *Journal {
	if max <= 0 {
		max = 200
	}
	return &Journal{max: max, sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Add appends entry, stamping it with the current time when unset.
func (j *Journal) Add(entry Entry) {
	if j == nil {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = j.now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
	if j.sink != nil {
		// Best effort; a failing sink must not affect reconciliation.
		_ = j.sink.Write(entry)
	}
}

// List returns up to limit of the most recent entries, oldest first.
func (j *Journal) List(limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.entries) {
		limit = len(j.entries)
	}
	out := make([]Entry, limit)
	copy(out, j.entries[len(j.entries)-limit:])
	return out
}
