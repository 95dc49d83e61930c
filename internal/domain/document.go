package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxDocumentChars caps how much of a document is sent with a prompt.
const MaxDocumentChars = 10000

// temporaryMarkers flag names produced by editors and upload pipelines.
var temporaryMarkers = []string{"img-", "temp", "~$", ".tmp"}

// Document is extracted text attached to a conversation.
type Document struct {
	Name    string    `json:"name"`
	Text    string    `json:"text"`
	Format  string    `json:"format,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// IsTemporary reports whether the document name looks like a scratch file.
func (d Document) IsTemporary() bool {
	lower := strings.ToLower(d.Name)
	for _, m := range temporaryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Excerpt returns the text truncated to MaxDocumentChars runes.
func (d Document) Excerpt() string {
	if utf8.RuneCountInString(d.Text) <= MaxDocumentChars {
		return d.Text
	}
	r := []rune(d.Text)
	return string(r[:MaxDocumentChars])
}

// DocumentSummary describes an attached document without its text.
type DocumentSummary struct {
	Name      string    `json:"name"`
	Format    string    `json:"format,omitempty"`
	Chars     int       `json:"chars"`
	Truncated bool      `json:"truncated"`
	Temporary bool      `json:"temporary"`
	AddedAt   time.Time `json:"added_at"`
}

// Summary reports size and filtering facts about d.
func (d Document) Summary() DocumentSummary {
	n := utf8.RuneCountInString(d.Text)
	return DocumentSummary{
		Name:      d.Name,
		Format:    d.Format,
		Chars:     n,
		Truncated: n > MaxDocumentChars,
		Temporary: d.IsTemporary(),
		AddedAt:   d.AddedAt,
	}
}
