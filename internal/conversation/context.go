// Package conversation holds the per-session transcript and attached
// documents, and the policy deciding what survives an expert switch.
package conversation

import (
	"maps"
	"slices"
	"sort"

	"github.com/bladealex9848/expert-nexus/internal/domain"
)

// Context is the conversation state of a session. CurrentExpert only
// changes through Policy.ApplySwitch; Messages only grow.
type Context struct {
	CurrentExpert string                     `json:"current_expert"`
	Messages      []domain.Message           `json:"messages"`
	Documents     map[string]domain.Document `json:"documents"`
}

// New creates an empty context for expert.
func New(expert string) *Context {
	return &Context{
		CurrentExpert: expert,
		Documents:     make(map[string]domain.Document),
	}
}

// Append adds messages to the transcript.
func (c *Context) Append(msgs ...domain.Message) {
	c.Messages = append(c.Messages, msgs...)
}

// AttachDocument stores doc, replacing any document with the same name.
func (c *Context) AttachDocument(doc domain.Document) {
	if c.Documents == nil {
		c.Documents = make(map[string]domain.Document)
	}
	c.Documents[doc.Name] = doc
}

// RemoveDocument drops a document by name and reports whether it existed.
func (c *Context) RemoveDocument(name string) bool {
	if _, ok := c.Documents[name]; !ok {
		return false
	}
	delete(c.Documents, name)
	return true
}

// ClearDocuments drops every attached document.
func (c *Context) ClearDocuments() {
	clear(c.Documents)
}

// ClearMessages empties the transcript. Only session-level resets use it.
func (c *Context) ClearMessages() {
	c.Messages = nil
}

// DocumentList returns the attached documents sorted by name.
func (c *Context) DocumentList() []domain.Document {
	out := make([]domain.Document, 0, len(c.Documents))
	for _, d := range c.Documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastAssistantMessage returns the most recent assistant reply.
func (c *Context) LastAssistantMessage() (domain.Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == domain.RoleAssistant {
			return c.Messages[i], true
		}
	}
	return domain.Message{}, false
}

// Clone returns a deep copy so a turn can stage changes and commit them
// only when processing succeeds.
func (c *Context) Clone() *Context {
	out := &Context{
		CurrentExpert: c.CurrentExpert,
		Messages:      slices.Clone(c.Messages),
		Documents:     maps.Clone(c.Documents),
	}
	if out.Documents == nil {
		out.Documents = make(map[string]domain.Document)
	}
	return out
}
