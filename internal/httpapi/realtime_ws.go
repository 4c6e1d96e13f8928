package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/versecast/internal/projection"
	"github.com/lukasbauer/versecast/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// maxAudioFrameBytes bounds one base64 audio message (a few seconds of
	// webm/opus is well under this).
	maxAudioFrameBytes = 8 << 20
	maxCommandBytes    = 64 << 10
	displayWriteWait   = 10 * time.Second
)

// handleRealtimeWS upgrades an operator's audio socket and hands it to the relay
func (r *Router) handleRealtimeWS(w http.ResponseWriter, req *http.Request) {
	if r.relay == nil {
		http.Error(w, `{"error": "realtime detection not configured"}`, http.StatusServiceUnavailable)
		return
	}
	if r.relay.Registry().IsDraining() {
		http.Error(w, `{"error": "server is shutting down"}`, http.StatusServiceUnavailable)
		return
	}
	authUser := getAuthUser(req.Context())

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("realtime: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxAudioFrameBytes)

	// Serve blocks until the socket closes and its last cycle finishes.
	if err := r.relay.Serve(req.Context(), conn, authUser.ID); err != nil && !errors.Is(err, relay.ErrDraining) {
		var terr *relay.TransportError
		if !errors.As(err, &terr) {
			captureError(req, err, "realtime session")
		}
	}
}

type displayMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// handleProjectionWS attaches a display surface to the user's projection room.
// Frames flow out; the socket may also send projection commands.
func (r *Router) handleProjectionWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		http.Error(w, `{"error": "projection not configured"}`, http.StatusServiceUnavailable)
		return
	}
	authUser := getAuthUser(req.Context())

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("projection: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxCommandBytes)

	display, err := r.hub.Attach(req.Context(), authUser.ID)
	if err != nil {
		r.logger.Printf("projection: attach for %s failed: %v", authUser.ID, err)
		conn.Close()
		return
	}

	var connMu sync.Mutex
	write := func(msgType string, payload any) error {
		connMu.Lock()
		defer connMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(displayWriteWait))
		return conn.WriteJSON(displayMessage{Type: msgType, Payload: payload})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := write("frame", display.Initial); err != nil {
			conn.Close()
			return
		}
		last := display.Initial.Seq
		for f := range display.Frames() {
			if f.Seq <= last {
				continue
			}
			last = f.Seq
			if err := write("frame", f); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		cmd, err := projection.ParseCommand(data)
		if err == nil {
			err = r.hub.Publish(req.Context(), authUser.ID, cmd)
		}
		if err != nil {
			if werr := write("error", map[string]string{"message": err.Error()}); werr != nil {
				break
			}
		}
	}

	r.hub.Detach(display)
	<-writerDone
	conn.Close()
}
