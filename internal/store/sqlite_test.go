package store

import (
	"context"
	"errors"
	"testing"
)

func newTestVerses(t *testing.T) *SQLiteVerses {
	t.Helper()
	s, err := OpenSQLiteVerses(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteVerses failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.InsertVerses(context.Background(), []Verse{
		{Reference: "John 3:16", Text: "For God so loved the world, that he gave his only begotten Son", Version: "KJV"},
		{Reference: "1 Corinthians 13:4", Text: "Charity suffereth long, and is kind", Version: "KJV"},
		{Reference: "1 Corinthians 13:4", Text: "Love is patient and is kind", Version: "WEB"},
		{Reference: "Psalms 100:1", Text: "Make a joyful noise unto the LORD, all ye lands. 100% joy", Version: "KJV"},
	})
	if err != nil {
		t.Fatalf("InsertVerses failed: %v", err)
	}
	return s
}

func TestSQLiteGetVerse(t *testing.T) {
	s := newTestVerses(t)
	ctx := context.Background()

	v, err := s.GetVerse(ctx, "John 3:16", "KJV")
	if err != nil {
		t.Fatalf("GetVerse failed: %v", err)
	}
	if v.Reference != "John 3:16" || v.Version != "KJV" {
		t.Errorf("GetVerse = %+v", v)
	}

	if _, err := s.GetVerse(ctx, "John 3:16", "WEB"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing version err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetVerse(ctx, "john 3:16", "KJV"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup must be exact, got err = %v", err)
	}
}

func TestSQLiteSearchVerses(t *testing.T) {
	s := newTestVerses(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		query   string
		version string
		want    []string
	}{
		{"case insensitive", "LOVED THE WORLD", "KJV", []string{"John 3:16"}},
		{"version scoped", "is kind", "WEB", []string{"1 Corinthians 13:4"}},
		{"literal percent", "100%", "KJV", []string{"Psalms 100:1"}},
		{"wildcard not expanded", "so_loved", "KJV", nil},
		{"no match", "locusts and wild honey", "KJV", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchVerses(ctx, tt.query, tt.version, 10)
			if err != nil {
				t.Fatalf("SearchVerses failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("SearchVerses(%q) = %v, want %v", tt.query, got, tt.want)
			}
			for i, v := range got {
				if v.Reference != tt.want[i] {
					t.Errorf("result[%d] = %q, want %q", i, v.Reference, tt.want[i])
				}
			}
		})
	}
}

func TestSQLiteSearchVersesLimit(t *testing.T) {
	s := newTestVerses(t)
	got, err := s.SearchVerses(context.Background(), "", "KJV", 2)
	if err != nil {
		t.Fatalf("SearchVerses failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Reference != "John 3:16" {
		t.Errorf("results should keep insertion order, got %q first", got[0].Reference)
	}
}

func TestSQLiteInsertIgnoresDuplicates(t *testing.T) {
	s := newTestVerses(t)
	ctx := context.Background()
	err := s.InsertVerses(ctx, []Verse{{Reference: "John 3:16", Text: "changed", Version: "KJV"}})
	if err != nil {
		t.Fatalf("InsertVerses failed: %v", err)
	}
	v, err := s.GetVerse(ctx, "John 3:16", "KJV")
	if err != nil {
		t.Fatalf("GetVerse failed: %v", err)
	}
	if v.Text == "changed" {
		t.Error("verse rows are immutable once loaded")
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"plain":   "plain",
		"100%":    `100\%`,
		"a_b":     `a\_b`,
		`back\sl`: `back\\sl`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
