// Package processor sends a resolved turn to the assistant backend that
// answers for an expert, plus the decorators (retry, timeout, fallback,
// metrics) layered around it.
package processor

import (
	"context"
	"errors"
	"strings"

	"github.com/bladealex9848/expert-nexus/internal/domain"
	"github.com/bladealex9848/expert-nexus/internal/expert"
)

// ErrProcessorFailure wraps every error surfaced by a processor chain.
var ErrProcessorFailure = errors.New("message processor failed")

// Request is one message to be answered by an expert.
type Request struct {
	SessionKey string
	// Text is the user's message as typed.
	Text      string
	Expert    expert.Descriptor
	History   []domain.Message
	Documents []domain.Document
}

// Prompt returns Text enriched with the attached documents.
func (r Request) Prompt() string {
	return BuildPrompt(r.Text, r.Documents)
}

// Processor answers a request with the reply text.
type Processor interface {
	Process(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Processor.
type Func func(ctx context.Context, req Request) (string, error)

// Process calls f.
func (f Func) Process(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Middleware decorates a Processor.
type Middleware func(Processor) Processor

// Chain applies middlewares so the first one is the outermost.
func Chain(p Processor, mws ...Middleware) Processor {
	for i := len(mws) - 1; i >= 0; i-- {
		p = mws[i](p)
	}
	return p
}

const documentsHeader = "### Contenido de documentos adjuntos:"

// BuildPrompt appends the text of attached documents to message. Documents
// with scratch-file names are skipped and each body is capped at
// domain.MaxDocumentChars. The message is returned unchanged when nothing
// remains to attach.
func BuildPrompt(message string, docs []domain.Document) string {
	var b strings.Builder
	for _, d := range docs {
		if d.IsTemporary() {
			continue
		}
		text := d.Excerpt()
		if len(text) < len(d.Text) {
			text += "..."
		}
		b.WriteString("-- Documento: ")
		b.WriteString(d.Name)
		b.WriteString(" --\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	if b.Len() == 0 {
		return message
	}
	return message + "\n\n\n\n" + documentsHeader + "\n\n" + b.String()
}

// RecentForExpert returns up to n trailing messages produced while key was
// the active expert.
func RecentForExpert(history []domain.Message, key string, n int) []domain.Message {
	var out []domain.Message
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].ExpertKey == key {
			out = append(out, history[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
