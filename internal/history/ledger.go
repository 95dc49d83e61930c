// Package history records the chronological log of expert changes.
package history

import (
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// TimestampLayout renders entry times on a 12-hour wall clock.
const TimestampLayout = "03:04:05 PM"

// Reasons recorded by the service.
const (
	ReasonConversationStart = "Inicio de conversación"
	ReasonNewConversation   = "Nueva conversación"
	ReasonManualSwitch      = "Cambio manual de experto"
	ReasonSuggestionAccept  = "Sugerencia automática aceptada"
)

// Entry is one expert change.
type Entry struct {
	Timestamp        string    `json:"timestamp"`
	At               time.Time `json:"at"`
	ExpertKey        string    `json:"expert"`
	Reason           string    `json:"reason"`
	ContextPreserved bool      `json:"preserved_context"`
}

// Ledger is an append-only list of entries. Only Reset clears it.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a change to expertKey and returns the stored entry.
func (l *Ledger) Append(expertKey, reason string, preserved bool) Entry {
	at := l.now()
	e := Entry{
		Timestamp:        at.Format(TimestampLayout),
		At:               at,
		ExpertKey:        expertKey,
		Reason:           reason,
		ContextPreserved: preserved,
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

// All returns a snapshot of every entry in insertion order.
func (l *Ledger) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the newest entry.
func (l *Ledger) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Reset clears the ledger and seeds it with one entry for expertKey.
func (l *Ledger) Reset(expertKey, reason string) {
	at := l.now()
	l.mu.Lock()
	l.entries = []Entry{{
		Timestamp:        at.Format(TimestampLayout),
		At:               at,
		ExpertKey:        expertKey,
		Reason:           reason,
		ContextPreserved: true,
	}}
	l.mu.Unlock()
}

// Clone returns an independent copy sharing the clock.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{entries: l.All(), now: l.now}
}

// MarshalJSON encodes the entries as a JSON array.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	entries := l.All()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON replaces the entries from a JSON array.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.mu.Lock()
	l.entries = entries
	if l.now == nil {
		l.now = time.Now
	}
	l.mu.Unlock()
	return nil
}
