// Package detect turns a transcript into a ranked list of verse matches by
// merging explicit references, AI suggestions and a substring-search
// fallback.
package detect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lukasbauer/versecast/internal/llm"
	"github.com/lukasbauer/versecast/internal/scripture"
	"github.com/lukasbauer/versecast/internal/store"
)

const (
	// ExplicitConfidence is assigned to references spoken in
	// book chapter:verse form.
	ExplicitConfidence = 95

	// MaxMatches caps the length of every TranscriptionResult.
	MaxMatches = 10

	// DefaultFallbackBelow runs the substring search when fewer matches than
	// this were found by the first two stages.
	DefaultFallbackBelow = 5

	DefaultVersion = "KJV"

	substringSearchLimit = 10
	substringTopScore    = 92
	substringRankStep    = 3
	substringFloor       = 50
)

// Match sources, in precedence order.
const (
	SourceExplicit  = "explicit"
	SourceAI        = "ai"
	SourceSubstring = "substring"
)

// VerseMatch is a candidate verse for a transcript.
type VerseMatch struct {
	Reference  string `json:"reference"`
	Text       string `json:"text"`
	Version    string `json:"version"`
	Confidence int    `json:"confidence"`
	Source     string `json:"-"`
}

// TranscriptionResult is the outcome of one audio-processing cycle. Matches
// are sorted by descending confidence and hold at most MaxMatches entries.
type TranscriptionResult struct {
	Text    string       `json:"text"`
	Matches []VerseMatch `json:"matches"`
	// Degraded is set when AI detection failed and the matches come from
	// explicit references and substring search only.
	Degraded bool `json:"-"`
}

// Settings are the per-request detection preferences sent by the client.
type Settings struct {
	BibleVersion        string  `json:"bibleVersion"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

// Normalize upper-cases the version, fills the default and clamps the
// threshold to [0,100].
func (s Settings) Normalize() Settings {
	s.BibleVersion = strings.ToUpper(strings.TrimSpace(s.BibleVersion))
	if s.BibleVersion == "" {
		s.BibleVersion = DefaultVersion
	}
	if s.ConfidenceThreshold < 0 || math.IsNaN(s.ConfidenceThreshold) {
		s.ConfidenceThreshold = 0
	}
	if s.ConfidenceThreshold > 100 {
		s.ConfidenceThreshold = 100
	}
	return s
}

// VerseStore is the read-only verse lookup the merger needs. Both the
// Postgres store and the SQLite verse store satisfy it.
type VerseStore interface {
	GetVerse(ctx context.Context, reference, version string) (*store.Verse, error)
	SearchVerses(ctx context.Context, query, version string, limit int) ([]store.Verse, error)
}

// Merger combines the three match sources for a transcript.
type Merger struct {
	verses        VerseStore
	fallbackBelow int
}

// NewMerger creates a merger. fallbackBelow <= 0 selects DefaultFallbackBelow.
func NewMerger(verses VerseStore, fallbackBelow int) *Merger {
	if fallbackBelow <= 0 {
		fallbackBelow = DefaultFallbackBelow
	}
	return &Merger{verses: verses, fallbackBelow: fallbackBelow}
}

// matchSet accumulates matches in insertion order, first seen wins.
type matchSet struct {
	matches []VerseMatch
	seen    map[string]bool
}

func (ms *matchSet) add(m VerseMatch) bool {
	if ms.seen[m.Reference] {
		return false
	}
	ms.seen[m.Reference] = true
	ms.matches = append(ms.matches, m)
	return true
}

// Merge runs the explicit, AI and substring stages in that order. A verse
// that is not in the store is omitted; any other store failure aborts the
// merge.
func (m *Merger) Merge(ctx context.Context, transcript string, suggestions []llm.VerseSuggestion, settings Settings) ([]VerseMatch, error) {
	settings = settings.Normalize()
	set := &matchSet{seen: make(map[string]bool)}

	for _, ref := range scripture.ExtractReferences(transcript) {
		v, err := m.lookup(ctx, ref.Key(), settings.BibleVersion)
		if err != nil {
			return nil, err
		}
		if v != nil {
			set.add(VerseMatch{
				Reference:  v.Reference,
				Text:       v.Text,
				Version:    v.Version,
				Confidence: ExplicitConfidence,
				Source:     SourceExplicit,
			})
		}
	}

	for _, s := range suggestions {
		if set.seen[s.Reference] {
			continue
		}
		key := s.Reference
		if ref, err := scripture.ParseReference(s.Reference); err == nil {
			key = ref.Key()
		}
		if set.seen[key] {
			continue
		}
		v, err := m.lookup(ctx, key, settings.BibleVersion)
		if err != nil {
			return nil, err
		}
		if v != nil {
			set.add(VerseMatch{
				Reference:  v.Reference,
				Text:       v.Text,
				Version:    v.Version,
				Confidence: llm.ClampConfidence(float64(s.Confidence)),
				Source:     SourceAI,
			})
		}
	}

	if len(set.matches) < m.fallbackBelow {
		if err := m.substringFallback(ctx, set, transcript, settings); err != nil {
			return nil, err
		}
	}

	out := set.matches
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > MaxMatches {
		out = out[:MaxMatches]
	}
	return out, nil
}

func (m *Merger) substringFallback(ctx context.Context, set *matchSet, transcript string, settings Settings) error {
	query := strings.TrimSpace(transcript)
	if query == "" {
		return nil
	}
	results, err := m.verses.SearchVerses(ctx, query, settings.BibleVersion, substringSearchLimit)
	if err != nil {
		return fmt.Errorf("substring search: %w", err)
	}
	for rank, v := range results {
		if len(set.matches) >= MaxMatches {
			break
		}
		conf := SubstringConfidence(rank)
		if float64(conf) < settings.ConfidenceThreshold {
			continue
		}
		set.add(VerseMatch{
			Reference:  v.Reference,
			Text:       v.Text,
			Version:    v.Version,
			Confidence: conf,
			Source:     SourceSubstring,
		})
	}
	return nil
}

// SubstringConfidence is the synthetic confidence of the rank-th (0-based)
// substring search result.
func SubstringConfidence(rank int) int {
	return max(substringTopScore-substringRankStep*rank, substringFloor)
}

// lookup returns nil, nil when the verse does not exist.
func (m *Merger) lookup(ctx context.Context, reference, version string) (*store.Verse, error) {
	v, err := m.verses.GetVerse(ctx, reference, version)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s (%s): %w", reference, version, err)
	}
	return v, nil
}
