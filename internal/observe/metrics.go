// Package observe holds the service's OpenTelemetry metric instruments and
// the Prometheus bridge that exposes them on /metrics.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all versecast metrics.
const meterName = "github.com/lukasbauer/versecast"

// Metrics holds all OpenTelemetry metric instruments for the service.
// All fields are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks speech-to-text latency per audio chunk.
	TranscriptionDuration metric.Float64Histogram

	// DetectionDuration tracks LLM verse-detection latency.
	DetectionDuration metric.Float64Histogram

	// CycleDuration tracks a full audio-to-matches cycle.
	CycleDuration metric.Float64Histogram

	// Cycles counts detection cycles. Use with attribute:
	//   attribute.String("status", "ok"|"degraded"|"error")
	Cycles metric.Int64Counter

	// Matches counts emitted verse matches by source
	// ("explicit", "ai", "substring").
	Matches metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ProviderTokens counts LLM tokens by direction ("prompt", "completion").
	ProviderTokens metric.Int64Counter

	// ActiveSessions tracks the number of live realtime sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsReaped counts sessions closed by the idle reaper.
	SessionsReaped metric.Int64Counter

	// AudioRejected counts audio chunks refused because a session's queue
	// was full.
	AudioRejected metric.Int64Counter

	// ProjectionCommands counts projection commands by type.
	ProjectionCommands metric.Int64Counter

	// DisplaysAttached tracks connected projection display sockets.
	DisplaysAttached metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Whisper
// and chat completions routinely take whole seconds per chunk.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("versecast.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectionDuration, err = m.Float64Histogram("versecast.detection.duration",
		metric.WithDescription("Latency of LLM verse detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("versecast.cycle.duration",
		metric.WithDescription("Latency of a full audio-to-matches cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Cycles, err = m.Int64Counter("versecast.cycles",
		metric.WithDescription("Detection cycles by status."),
	); err != nil {
		return nil, err
	}
	if met.Matches, err = m.Int64Counter("versecast.matches",
		metric.WithDescription("Emitted verse matches by source."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("versecast.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderTokens, err = m.Int64Counter("versecast.provider.tokens",
		metric.WithDescription("LLM tokens consumed by direction."),
	); err != nil {
		return nil, err
	}
	if met.SessionsReaped, err = m.Int64Counter("versecast.sessions.reaped",
		metric.WithDescription("Realtime sessions closed for inactivity."),
	); err != nil {
		return nil, err
	}
	if met.AudioRejected, err = m.Int64Counter("versecast.audio.rejected",
		metric.WithDescription("Audio chunks rejected because the session queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ProjectionCommands, err = m.Int64Counter("versecast.projection.commands",
		metric.WithDescription("Projection commands by type."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("versecast.active_sessions",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}
	if met.DisplaysAttached, err = m.Int64UpDownCounter("versecast.projection.displays",
		metric.WithDescription("Number of attached projection displays."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("versecast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordCycle records the outcome and latency of one detection cycle.
func (m *Metrics) RecordCycle(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, seconds, attrs)
}

// RecordTranscription records one speech-to-text call latency.
func (m *Metrics) RecordTranscription(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Record(ctx, seconds)
}

// RecordDetection records one verse-detection call latency.
func (m *Metrics) RecordDetection(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.DetectionDuration.Record(ctx, seconds)
}

// RecordMatches adds n matches attributed to source.
func (m *Metrics) RecordMatches(ctx context.Context, source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Matches.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTokens records LLM token usage.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int64) {
	if m == nil {
		return
	}
	m.ProviderTokens.Add(ctx, prompt, metric.WithAttributes(attribute.String("direction", "prompt")))
	m.ProviderTokens.Add(ctx, completion, metric.WithAttributes(attribute.String("direction", "completion")))
}

// RecordProjectionCommand records one projection command of the given type.
func (m *Metrics) RecordProjectionCommand(ctx context.Context, cmdType string) {
	if m == nil {
		return
	}
	m.ProjectionCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("type", cmdType)))
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordReaped counts one session closed for inactivity.
func (m *Metrics) RecordReaped(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsReaped.Add(ctx, 1)
}

// RecordAudioRejected counts one audio chunk refused by a full queue.
func (m *Metrics) RecordAudioRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.AudioRejected.Add(ctx, 1)
}

// DisplayAttached adjusts the attached display gauge by delta.
func (m *Metrics) DisplayAttached(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.DisplaysAttached.Add(ctx, delta)
}
