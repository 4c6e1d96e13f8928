package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/lukasbauer/versecast/internal/detect"
)

// State is the bookkeeping state of a session. It is informational only: an
// ERROR session accepts the next audio chunk like any other.
type State string

const (
	StateConnected  State = "CONNECTED"
	StateProcessing State = "PROCESSING"
	StateError      State = "ERROR"
)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// TransportError reports a socket-level failure. The session is closed and
// removed when one occurs.
type TransportError struct {
	SessionID string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %s: transport: %v", e.SessionID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// audioJob is one decoded audio chunk waiting for the session worker.
type audioJob struct {
	audio    []byte
	deviceID string
	settings detect.Settings
}

// Session is one live realtime socket.
type Session struct {
	ID     string
	UserID string

	conn   Conn
	connMu sync.Mutex

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	queue     chan audioJob
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(id, userID string, conn Conn, queueSize int, now time.Time) *Session {
	return &Session{
		ID:           id,
		UserID:       userID,
		conn:         conn,
		state:        StateConnected,
		lastActivity: now,
		queue:        make(chan audioJob, queueSize),
		closed:       make(chan struct{}),
	}
}

// State returns the current bookkeeping state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// LastActivity returns when the client last sent a frame.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// enqueue hands a chunk to the worker without blocking. It returns false
// when the queue is full.
func (s *Session) enqueue(job audioJob) bool {
	select {
	case s.queue <- job:
		return true
	default:
		return false
	}
}

// send writes one frame. Writes are serialized per connection.
func (s *Session) send(msgType string, payload any) error {
	s.connMu.Lock()
	err := s.conn.WriteJSON(outboundMessage{Type: msgType, Payload: payload})
	s.connMu.Unlock()
	if err != nil {
		return &TransportError{SessionID: s.ID, Err: err}
	}
	return nil
}

func (s *Session) sendError(message string) error {
	return s.send(msgTypeError, errorPayload{Message: message})
}

// Close closes the socket once. The reader goroutine observes the closed
// socket and finishes the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Closed is closed once the session's socket has been closed.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}
