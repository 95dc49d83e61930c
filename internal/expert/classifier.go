package expert

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// KeywordEntry is the keyword list of one expert.
type KeywordEntry struct {
	Key      string
	Keywords []string
}

// KeywordTable is an ordered expert -> keywords mapping. Order decides ties.
type KeywordTable []KeywordEntry

// Keys returns the expert keys in table order.
func (t KeywordTable) Keys() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Key
	}
	return out
}

// Lookup returns the keywords for key.
func (t KeywordTable) Lookup(key string) ([]string, bool) {
	for _, e := range t {
		if e.Key == key {
			return e.Keywords, true
		}
	}
	return nil, false
}

// Validate checks that every key in the table is known to isKnown.
func (t KeywordTable) Validate(isKnown func(string) bool) error {
	seen := make(map[string]struct{}, len(t))
	for _, e := range t {
		if !isKnown(e.Key) {
			return &TableError{Key: e.Key, Err: ErrUnknownExpert}
		}
		if _, dup := seen[e.Key]; dup {
			return &TableError{Key: e.Key, Err: errDuplicateKeywordKey}
		}
		seen[e.Key] = struct{}{}
	}
	return nil
}

// Fold lower-cases text with Spanish casing rules and composes accents,
// so "ACCIÓN" and a decomposed "acción" both become "acción".
func Fold(text string) string {
	return norm.NFC.String(cases.Lower(language.Spanish).String(norm.NFC.String(text)))
}

// Classify suggests the expert whose keywords occur most often in text.
// Each keyword counts once when it appears as a substring. Only keys for
// which isValid returns true take part. The strictly highest count wins and
// ties go to the entry seen first in the table. ok is false when nothing
// matched.
func Classify(text string, table KeywordTable, isValid func(string) bool) (key string, ok bool) {
	folded := Fold(text)
	if folded == "" {
		return "", false
	}

	best := 0
	for _, e := range table {
		if isValid != nil && !isValid(e.Key) {
			continue
		}
		score := 0
		for _, kw := range e.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(folded, Fold(kw)) {
				score++
			}
		}
		if score > best {
			best = score
			key = e.Key
		}
	}
	return key, best > 0
}

// Scores returns the per-expert match count for text, in table order,
// omitting experts with no match.
func Scores(text string, table KeywordTable) []Score {
	folded := Fold(text)
	var out []Score
	for _, e := range table {
		var hits []string
		for _, kw := range e.Keywords {
			if kw != "" && strings.Contains(folded, Fold(kw)) {
				hits = append(hits, kw)
			}
		}
		if len(hits) > 0 {
			out = append(out, Score{Key: e.Key, Count: len(hits), Matched: hits})
		}
	}
	return out
}

// Score is one expert's keyword match result.
type Score struct {
	Key     string   `json:"key"`
	Count   int      `json:"count"`
	Matched []string `json:"matched"`
}
