package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of realtime session event
type EventType string

const (
	EventSessionOpened          EventType = "session_opened"
	EventSessionClosed          EventType = "session_closed"
	EventSessionReaped          EventType = "session_reaped"
	EventAudioReceived          EventType = "audio_received"
	EventAudioRejected          EventType = "audio_rejected"
	EventTranscriptionCompleted EventType = "transcription_completed"
	EventTranscriptionFailed    EventType = "transcription_failed"
	EventDetectionDegraded      EventType = "detection_degraded"
	EventMatchesEmitted         EventType = "matches_emitted"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID, userID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	var uid any
	if userID != "" {
		uid = userID
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, user_id, event_type, event_data)
		VALUES ($1, $2, $3, $4)
	`, sessionID, uid, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID, userID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, userID, eventType, data)
	}()
}
