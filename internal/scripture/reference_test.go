package scripture

import (
	"testing"
)

func TestCanonicalBook(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"John", "John", true},
		{"john", "John", true},
		{"1 John", "1 John", true},
		{"1John", "1 John", true},
		{"First John", "1 John", true},
		{"II Kings", "2 Kings", true},
		{"Psalm", "Psalms", true},
		{"Revelations", "Revelation", true},
		{"Song of Songs", "Song of Solomon", true},
		{"Jon", "John", true}, // fuzzy
		{"Chapter", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CanonicalBook(tt.in)
			if ok != tt.ok {
				t.Fatalf("CanonicalBook(%q) ok = %v, want %v (got %q)", tt.in, ok, tt.ok, got)
			}
			if got != tt.want {
				t.Errorf("CanonicalBook(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractReferences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single reference at end",
			text: "For God so loved the world... John 3:16",
			want: []string{"John 3:16"},
		},
		{
			name: "range",
			text: "turn with me to Romans 8:28-30 this morning",
			want: []string{"Romans 8:28-30"},
		},
		{
			name: "numbered book and ordinal",
			text: "as 1 Corinthians 13:4 says, and First John 4:8 too",
			want: []string{"1 Corinthians 13:4", "1 John 4:8"},
		},
		{
			name: "suffixed ordinals",
			text: "1st John 3:16 and 2nd Timothy 3:16 and 3rd John 1:4",
			want: []string{"1 John 3:16", "2 Timothy 3:16", "3 John 1:4"},
		},
		{
			name: "greedy book capture drops leading words",
			text: "the world of John 1:1",
			want: []string{"John 1:1"},
		},
		{
			name: "song of solomon",
			text: "Song of Solomon 2:4",
			want: []string{"Song of Solomon 2:4"},
		},
		{
			name: "unknown book skipped",
			text: "at chapter 3:16 we see",
			want: nil,
		},
		{
			name: "no references",
			text: "love is patient love is kind",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := ExtractReferences(tt.text)
			if len(refs) != len(tt.want) {
				t.Fatalf("ExtractReferences(%q) = %v, want %v", tt.text, refs, tt.want)
			}
			for i, r := range refs {
				if r.String() != tt.want[i] {
					t.Errorf("ref[%d] = %q, want %q", i, r.String(), tt.want[i])
				}
			}
		})
	}
}

func TestReferenceKey(t *testing.T) {
	r := Reference{Book: "Romans", Chapter: 8, Verse: 28, VerseEnd: 30}
	if !r.IsRange() {
		t.Error("expected range")
	}
	if r.Key() != "Romans 8:28" {
		t.Errorf("Key() = %q, want %q", r.Key(), "Romans 8:28")
	}

	single := Reference{Book: "John", Chapter: 3, Verse: 16, VerseEnd: 16}
	if single.IsRange() {
		t.Error("VerseEnd == Verse should not be a range")
	}
	if single.String() != "John 3:16" {
		t.Errorf("String() = %q", single.String())
	}
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("  john 3:16 ")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}
	if ref.Key() != "John 3:16" {
		t.Errorf("Key() = %q, want %q", ref.Key(), "John 3:16")
	}

	if _, err := ParseReference("see John 3:16"); err == nil {
		t.Error("expected error for reference with surrounding text")
	}
	if _, err := ParseReference("Hezekiah 1:1"); err == nil {
		t.Error("expected error for unknown book")
	}
	if _, err := ParseReference(""); err == nil {
		t.Error("expected error for empty string")
	}
}
