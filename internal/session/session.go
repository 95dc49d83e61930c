// Package session bundles the persisted per-session state: the selection
// state machine, the conversation context and the expert history ledger.
package session

import (
	"time"

	"github.com/bladealex9848/expert-nexus/internal/conversation"
	"github.com/bladealex9848/expert-nexus/internal/history"
	"github.com/bladealex9848/expert-nexus/internal/selection"
)

// Session is the unit of persistence, keyed by session identity.
type Session struct {
	Key          string                `json:"key"`
	Selection    selection.State       `json:"selection"`
	Conversation *conversation.Context `json:"conversation"`
	Ledger       *history.Ledger       `json:"history"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// New starts a session on initialExpert with a seeded ledger.
func New(key, initialExpert string, now time.Time, opts ...history.Option) *Session {
	ledger := history.New(opts...)
	ledger.Append(initialExpert, history.ReasonConversationStart, true)
	return &Session{
		Key:          key,
		Conversation: conversation.New(initialExpert),
		Ledger:       ledger,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CurrentExpert returns the active expert key.
func (s *Session) CurrentExpert() string {
	return s.Conversation.CurrentExpert
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Conversation = s.Conversation.Clone()
	cp.Ledger = s.Ledger.Clone()
	return &cp
}

// Normalize fills structures missing after decoding older records.
func (s *Session) Normalize(defaultExpert string) {
	if s.Conversation == nil {
		s.Conversation = conversation.New(defaultExpert)
	}
	if s.Conversation.CurrentExpert == "" {
		s.Conversation.CurrentExpert = defaultExpert
	}
	if s.Ledger == nil {
		s.Ledger = history.New()
	}
}
