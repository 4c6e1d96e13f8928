package detect

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/lukasbauer/versecast/internal/llm"
	"github.com/lukasbauer/versecast/internal/stt"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeDetector struct {
	suggestions []llm.VerseSuggestion
	err         error
	calls       int
}

func (f *fakeDetector) DetectVerses(context.Context, string) ([]llm.VerseSuggestion, error) {
	f.calls++
	return f.suggestions, f.err
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestPipelineProcess(t *testing.T) {
	verses := newVerseStore(t,
		kjv("John 3:16", "For God so loved the world"),
		kjv("John 1:1", "In the beginning was the Word"),
	)
	det := &fakeDetector{suggestions: []llm.VerseSuggestion{{Reference: "John 1:1", Confidence: 80}}}
	p := NewPipeline(fakeTranscriber{text: "For God so loved the world... John 3:16"}, det, NewMerger(verses, 0), nil, discardLogger())

	res, err := p.Process(context.Background(), []byte("audio"), Settings{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Text != "For God so loved the world... John 3:16" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Matches) != 2 || res.Matches[0].Reference != "John 3:16" || res.Matches[0].Confidence != 95 {
		t.Errorf("matches = %+v", res.Matches)
	}
	if res.Degraded {
		t.Error("result should not be degraded")
	}
	if det.calls != 1 {
		t.Errorf("detector calls = %d, want 1", det.calls)
	}
}

func TestPipelineTranscriptionErrorIsFatal(t *testing.T) {
	verses := newVerseStore(t)
	det := &fakeDetector{}
	terr := &stt.TranscriptionError{Err: stt.ErrEmptyTranscript}
	p := NewPipeline(fakeTranscriber{err: terr}, det, NewMerger(verses, 0), nil, discardLogger())

	_, err := p.Process(context.Background(), []byte("audio"), Settings{})
	var got *stt.TranscriptionError
	if !errors.As(err, &got) {
		t.Fatalf("err = %v, want *stt.TranscriptionError", err)
	}
	if det.calls != 0 {
		t.Error("detector must not run after a failed transcription")
	}
}

func TestPipelineDetectionErrorDegrades(t *testing.T) {
	verses := newVerseStore(t, loveVerses()...)
	det := &fakeDetector{err: &llm.DetectionError{Err: errors.New("rate limited")}}
	p := NewPipeline(fakeTranscriber{text: "love is patient love is kind"}, det, NewMerger(verses, 0), nil, discardLogger())

	res, err := p.Process(context.Background(), []byte("audio"), Settings{ConfidenceThreshold: 80})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !res.Degraded {
		t.Error("result should be marked degraded")
	}
	want := []int{92, 89, 86, 83, 80}
	if len(res.Matches) != len(want) {
		t.Fatalf("matches = %+v", res.Matches)
	}
	for i, m := range res.Matches {
		if m.Source != SourceSubstring || m.Confidence != want[i] {
			t.Errorf("match[%d] = %+v, want substring at %d", i, m, want[i])
		}
	}
}

func TestPipelineWithoutDetector(t *testing.T) {
	verses := newVerseStore(t, kjv("John 3:16", "For God so loved the world"))
	p := NewPipeline(fakeTranscriber{text: "John 3:16"}, nil, NewMerger(verses, 0), nil, nil)

	res, err := p.Process(context.Background(), []byte("audio"), Settings{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("matches = %+v", res.Matches)
	}
}

func TestPipelineEmptyMatchesIsNotNil(t *testing.T) {
	verses := newVerseStore(t)
	p := NewPipeline(fakeTranscriber{text: "nothing to see"}, nil, NewMerger(verses, 0), nil, discardLogger())

	res, err := p.Process(context.Background(), []byte("audio"), Settings{})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Matches == nil {
		t.Error("matches should encode as [] not null")
	}
}
