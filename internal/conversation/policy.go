package conversation

import (
	"fmt"

	"github.com/bladealex9848/expert-nexus/internal/expert"
)

// KnownExperts reports whether an expert key is registered.
type KnownExperts interface {
	Has(key string) bool
}

// Switch describes the outcome of ApplySwitch.
type Switch struct {
	From             string
	To               string
	Reason           string
	ContextPreserved bool
	// DocumentsDropped counts documents cleared by the switch.
	DocumentsDropped int
}

// Changed reports whether the active expert actually moved.
func (s Switch) Changed() bool { return s.From != s.To }

// Policy applies expert switches to a context.
type Policy struct {
	experts KnownExperts
}

// NewPolicy returns a policy validating keys against experts.
func NewPolicy(experts KnownExperts) *Policy {
	return &Policy{experts: experts}
}

// ApplySwitch moves ctx to expert key. Messages are always retained. When
// preserve is false attached documents are cleared. Switching to the
// current expert changes nothing. An unknown key returns
// expert.ErrUnknownExpert and leaves ctx untouched.
func (p *Policy) ApplySwitch(ctx *Context, key, reason string, preserve bool) (Switch, error) {
	if p.experts == nil || !p.experts.Has(key) {
		return Switch{From: ctx.CurrentExpert, To: ctx.CurrentExpert}, fmt.Errorf("switch expert: %w: %q", expert.ErrUnknownExpert, key)
	}

	sw := Switch{From: ctx.CurrentExpert, To: key, Reason: reason, ContextPreserved: preserve}
	if !sw.Changed() {
		sw.ContextPreserved = true
		return sw, nil
	}

	if !preserve {
		sw.DocumentsDropped = len(ctx.Documents)
		ctx.ClearDocuments()
	}
	ctx.CurrentExpert = key
	return sw, nil
}
