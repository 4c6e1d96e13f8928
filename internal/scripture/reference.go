package scripture

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// referencePattern matches "<BookName> <chapter>:<verse>[-<verse>]". The book
// group admits an ordinal prefix ("1", "1st", "First", "II") and the "X of Y" form
// used by "Song of Solomon".
var referencePattern = regexp.MustCompile(
	`(?i)\b((?:(?:1st|2nd|3rd|[1-3]|i{1,3}|first|second|third)\s*)?[a-z]+(?:\s+of\s+[a-z]+)?)\s+(\d{1,3}):(\d{1,3})(?:\s*[-–]\s*(\d{1,3}))?`,
)

// Reference is a parsed book/chapter/verse citation.
type Reference struct {
	Book     string `json:"book"`
	Chapter  int    `json:"chapter"`
	Verse    int    `json:"verse"`
	VerseEnd int    `json:"verse_end,omitempty"`
}

// String renders the reference as "John 3:16" or "John 3:16-18".
func (r Reference) String() string {
	if r.IsRange() {
		return fmt.Sprintf("%s %d:%d-%d", r.Book, r.Chapter, r.Verse, r.VerseEnd)
	}
	return r.Key()
}

// Key is the single-verse reference used to look a verse up: ranges resolve
// to their first verse.
func (r Reference) Key() string {
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Verse)
}

// IsRange reports whether the reference spans more than one verse.
func (r Reference) IsRange() bool {
	return r.VerseEnd > r.Verse
}

// ExtractReferences finds every explicit reference in text, in order of
// appearance. Candidates whose book name cannot be resolved are skipped.
func ExtractReferences(text string) []Reference {
	var refs []Reference
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		if ref, ok := fromMatch(m); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ParseReference parses a string that is exactly one reference, such as
// an AI-suggested "john 3:16".
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	loc := referencePattern.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 || loc[1] != len(s) {
		return Reference{}, fmt.Errorf("invalid reference format: %q", s)
	}
	m := referencePattern.FindStringSubmatch(s)
	ref, ok := fromMatch(m)
	if !ok {
		return Reference{}, fmt.Errorf("unknown book in reference: %q", s)
	}
	return ref, nil
}

func fromMatch(m []string) (Reference, bool) {
	book, ok := resolveBook(m[1])
	if !ok {
		return Reference{}, false
	}
	chapter, err := strconv.Atoi(m[2])
	if err != nil || chapter == 0 {
		return Reference{}, false
	}
	verse, err := strconv.Atoi(m[3])
	if err != nil || verse == 0 {
		return Reference{}, false
	}
	ref := Reference{Book: book, Chapter: chapter, Verse: verse}
	if m[4] != "" {
		if end, err := strconv.Atoi(m[4]); err == nil && end > verse {
			ref.VerseEnd = end
		}
	}
	return ref, true
}

// resolveBook canonicalizes the captured book text. The pattern is greedy,
// so "the world of John" may be captured whole; leading words are dropped
// one at a time until a book resolves.
func resolveBook(captured string) (string, bool) {
	words := strings.Fields(captured)
	for i := range words {
		if b, ok := CanonicalBook(strings.Join(words[i:], " ")); ok {
			return b, true
		}
	}
	return "", false
}
