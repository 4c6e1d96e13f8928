// Package relay runs the realtime audio sessions: it reads audio frames from
// a client socket, feeds them through the detection pipeline one at a time
// and writes the results back on the same socket.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lukasbauer/versecast/internal/detect"
	"github.com/lukasbauer/versecast/internal/eventlog"
	"github.com/lukasbauer/versecast/internal/observe"
	"github.com/lukasbauer/versecast/internal/stt"
)

const (
	msgTypeAudio         = "audio"
	msgTypeTranscription = "transcription"
	msgTypeError         = "error"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultIdleTimeout  = 30 * time.Second
	DefaultReapInterval = 30 * time.Second
	DefaultQueueSize    = 4
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type audioPayload struct {
	Data     string          `json:"data"`
	DeviceID string          `json:"deviceId"`
	Settings detect.Settings `json:"settings"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Processor turns one audio chunk into a transcription result.
type Processor interface {
	Process(ctx context.Context, audio []byte, settings detect.Settings) (*detect.TranscriptionResult, error)
}

// Config tunes session handling.
type Config struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	QueueSize    int
}

// Relay owns the realtime sessions.
type Relay struct {
	processor Processor
	registry  *SessionRegistry
	events    *eventlog.Logger
	metrics   *observe.Metrics
	logger    *log.Logger
	cfg       Config

	now func() time.Time
}

// New creates a Relay. events and metrics may be nil.
func New(processor Processor, registry *SessionRegistry, events *eventlog.Logger, metrics *observe.Metrics, logger *log.Logger, cfg Config) *Relay {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if registry == nil {
		registry = NewSessionRegistry()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		processor: processor,
		registry:  registry,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Registry returns the session registry.
func (r *Relay) Registry() *SessionRegistry {
	return r.registry
}

// ErrDraining is returned by Serve when the relay no longer accepts sessions.
var ErrDraining = errors.New("relay is draining")

// Serve runs a session on conn until the socket closes. It blocks until the
// session's in-flight work has finished; chunks still queued at that point
// are discarded. Processing is detached from ctx
// cancellation so a closing socket does not abort a running cycle.
func (r *Relay) Serve(ctx context.Context, conn Conn, userID string) error {
	s := newSession(uuid.NewString(), userID, conn, r.cfg.QueueSize, r.now())
	if !r.registry.Add(s) {
		_ = s.sendError("server is shutting down")
		conn.Close()
		return ErrDraining
	}
	defer r.registry.Done()

	r.metrics.SessionOpened(ctx)
	r.events.LogAsync(s.ID, userID, eventlog.EventSessionOpened, nil)
	r.logger.Printf("relay: session %s opened (user=%s)", s.ID, userID)

	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTag("session_id", s.ID)

	workCtx := context.WithoutCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		dropped := 0
		for job := range s.queue {
			select {
			case <-s.Closed():
				dropped++
				continue
			default:
			}
			r.process(workCtx, s, hub, job)
		}
		if dropped > 0 {
			r.logger.Printf("relay: session %s: dropped %d queued chunks after close", s.ID, dropped)
		}
	}()

	err := r.readLoop(ctx, s)

	// Nobody can receive results once the reader is done. The in-flight
	// cycle finishes; queued chunks are skipped.
	s.Close()
	close(s.queue)
	<-workerDone

	r.registry.Remove(s.ID)
	r.metrics.SessionClosed(ctx)
	r.events.LogAsync(s.ID, userID, eventlog.EventSessionClosed, nil)
	if err != nil {
		r.logger.Printf("relay: session %s closed: %v", s.ID, err)
		return err
	}
	r.logger.Printf("relay: session %s closed", s.ID)
	return nil
}

// readLoop consumes client frames until the socket fails or closes. A normal
// close returns nil; anything else is a TransportError.
func (r *Relay) readLoop(ctx context.Context, s *Session) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.Closed():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return &TransportError{SessionID: s.ID, Err: err}
		}
		s.touch(r.now())

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := s.sendError("invalid message: expected JSON"); err != nil {
				return err
			}
			continue
		}

		switch msg.Type {
		case msgTypeAudio:
			if err := r.handleAudio(ctx, s, msg.Payload); err != nil {
				return err
			}
		default:
			if err := s.sendError("unknown message type: " + msg.Type); err != nil {
				return err
			}
		}
	}
}

// handleAudio decodes an audio frame and queues it. Only transport failures
// are returned; client mistakes are answered with error frames.
func (r *Relay) handleAudio(ctx context.Context, s *Session, raw json.RawMessage) error {
	var p audioPayload
	if len(raw) == 0 {
		return s.sendError("audio message missing payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return s.sendError("invalid audio payload")
	}
	audio, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return s.sendError("invalid audio payload: data is not base64")
	}
	if len(audio) == 0 {
		return s.sendError("invalid audio payload: empty audio")
	}

	job := audioJob{audio: audio, deviceID: p.DeviceID, settings: p.Settings}
	if !s.enqueue(job) {
		r.metrics.RecordAudioRejected(ctx)
		r.events.LogAsync(s.ID, s.UserID, eventlog.EventAudioRejected, map[string]any{"bytes": len(audio)})
		return s.sendError("server busy: audio chunk dropped")
	}
	r.events.LogAsync(s.ID, s.UserID, eventlog.EventAudioReceived, map[string]any{
		"bytes":    len(audio),
		"deviceId": p.DeviceID,
	})
	return nil
}

// process runs one chunk and writes the outcome. A failed write closes the
// session.
func (r *Relay) process(ctx context.Context, s *Session, hub *sentry.Hub, job audioJob) {
	s.setState(StateProcessing)
	res, err := r.processor.Process(ctx, job.audio, job.settings)
	if err != nil {
		s.setState(StateError)
		msg := "processing failed"
		var terr *stt.TranscriptionError
		if errors.As(err, &terr) {
			msg = "transcription failed"
		} else {
			hub.CaptureException(err)
		}
		r.logger.Printf("relay: session %s: %v", s.ID, err)
		r.events.LogAsync(s.ID, s.UserID, eventlog.EventTranscriptionFailed, map[string]any{"error": err.Error()})
		if werr := s.sendError(msg); werr != nil {
			r.closeOnWriteError(s, werr)
		}
		return
	}

	s.setState(StateConnected)
	if res.Degraded {
		r.events.LogAsync(s.ID, s.UserID, eventlog.EventDetectionDegraded, nil)
	}
	r.events.LogAsync(s.ID, s.UserID, eventlog.EventTranscriptionCompleted, map[string]any{
		"chars":    len(res.Text),
		"deviceId": job.deviceID,
	})
	if len(res.Matches) > 0 {
		refs := make([]string, 0, len(res.Matches))
		for _, m := range res.Matches {
			refs = append(refs, m.Reference)
		}
		r.events.LogAsync(s.ID, s.UserID, eventlog.EventMatchesEmitted, map[string]any{"references": refs})
	}
	if err := s.send(msgTypeTranscription, res); err != nil {
		r.closeOnWriteError(s, err)
	}
}

func (r *Relay) closeOnWriteError(s *Session, err error) {
	select {
	case <-s.Closed():
		return
	default:
	}
	r.logger.Printf("relay: %v", err)
	s.Close()
}

// Sweep closes and removes every session idle longer than the idle timeout.
// It returns the number of sessions reaped.
func (r *Relay) Sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	reaped := 0
	for _, s := range r.registry.Idle(cutoff) {
		if !r.registry.Remove(s.ID) {
			continue
		}
		s.Close()
		reaped++
		r.metrics.RecordReaped(context.Background())
		r.events.LogAsync(s.ID, s.UserID, eventlog.EventSessionReaped, map[string]any{
			"idleSeconds": int(r.now().Sub(s.LastActivity()).Seconds()),
		})
		r.logger.Printf("relay: reaped idle session %s (state=%s)", s.ID, s.State())
	}
	return reaped
}

// RunReaper sweeps idle sessions every ReapInterval until ctx is done.
func (r *Relay) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown stops accepting sessions, closes the live ones and waits for
// their in-flight cycles to finish or ctx to expire.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.registry.StartDraining()
	r.registry.CloseAll()
	done := make(chan struct{})
	go func() {
		r.registry.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
