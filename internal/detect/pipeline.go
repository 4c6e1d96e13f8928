package detect

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lukasbauer/versecast/internal/llm"
	"github.com/lukasbauer/versecast/internal/observe"
	"github.com/lukasbauer/versecast/internal/stt"
)

// Pipeline runs one audio chunk through transcription, verse detection and
// the merger.
type Pipeline struct {
	transcriber stt.Transcriber
	detector    llm.Detector
	merger      *Merger
	metrics     *observe.Metrics
	logger      *log.Logger
}

// NewPipeline wires a pipeline. detector may be nil, in which case every
// cycle runs without AI suggestions.
func NewPipeline(transcriber stt.Transcriber, detector llm.Detector, merger *Merger, metrics *observe.Metrics, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		transcriber: transcriber,
		detector:    detector,
		merger:      merger,
		metrics:     metrics,
		logger:      logger,
	}
}

// Process transcribes audio and returns the ranked matches. A transcription
// failure fails the cycle; a detection failure is logged and the cycle
// continues with explicit and substring matches only.
func (p *Pipeline) Process(ctx context.Context, audio []byte, settings Settings) (*TranscriptionResult, error) {
	start := time.Now()
	settings = settings.Normalize()

	sttStart := time.Now()
	text, err := p.transcriber.Transcribe(ctx, audio)
	p.metrics.RecordTranscription(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "openai", "stt")
		p.metrics.RecordCycle(ctx, "error", time.Since(start).Seconds())
		return nil, err
	}

	status := "ok"
	var suggestions []llm.VerseSuggestion
	if p.detector != nil {
		llmStart := time.Now()
		suggestions, err = p.detector.DetectVerses(ctx, text)
		p.metrics.RecordDetection(ctx, time.Since(llmStart).Seconds())
		if err != nil {
			status = "degraded"
			suggestions = nil
			p.metrics.RecordProviderError(ctx, "openai", "detection")
			p.logger.Printf("detect: AI detection unavailable, continuing without suggestions: %v", err)
			sentry.CaptureException(err)
		}
	}

	matches, err := p.merger.Merge(ctx, text, suggestions, settings)
	if err != nil {
		p.metrics.RecordCycle(ctx, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("merge matches: %w", err)
	}

	bySource := make(map[string]int, 3)
	for _, m := range matches {
		bySource[m.Source]++
	}
	for source, n := range bySource {
		p.metrics.RecordMatches(ctx, source, n)
	}
	p.metrics.RecordCycle(ctx, status, time.Since(start).Seconds())

	if matches == nil {
		matches = []VerseMatch{}
	}
	return &TranscriptionResult{Text: text, Matches: matches, Degraded: status == "degraded"}, nil
}
