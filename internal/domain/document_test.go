package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocumentIsTemporary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want bool
	}{
		{"contrato.pdf", false},
		{"img-0001.png", true},
		{"~$borrador.docx", true},
		{"upload.tmp", true},
		{"TempFile.txt", true},
		{"sentencia T-760.pdf", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Document{Name: tt.name}.IsTemporary(), tt.name)
	}
}

func TestDocumentExcerpt(t *testing.T) {
	t.Parallel()
	short := Document{Text: "corto"}
	assert.Equal(t, "corto", short.Excerpt())

	long := Document{Name: "largo.txt", Text: strings.Repeat("ñ", MaxDocumentChars+5)}
	assert.Equal(t, MaxDocumentChars, len([]rune(long.Excerpt())))

	s := long.Summary()
	assert.True(t, s.Truncated)
	assert.Equal(t, MaxDocumentChars+5, s.Chars)
}

func TestNewMessage(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := NewMessage(RoleUser, "hola", "", at)
	b := NewMessage(RoleAssistant, "hola", "tutela", at)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "tutela", b.ExpertKey)
	assert.Equal(t, at, a.CreatedAt)
}
