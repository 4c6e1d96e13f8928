package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/lukasbauer/versecast/internal/projection"
)

// handleGetProjection returns the current display state for the user's room
func (r *Router) handleGetProjection(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		http.Error(w, `{"error": "projection not configured"}`, http.StatusServiceUnavailable)
		return
	}
	authUser := getAuthUser(req.Context())

	frame, err := r.hub.Snapshot(req.Context(), authUser.ID)
	if err != nil {
		http.Error(w, `{"error": "projection unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

// handleProjectionCommand publishes one operator command to the user's displays
func (r *Router) handleProjectionCommand(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		http.Error(w, `{"error": "projection not configured"}`, http.StatusServiceUnavailable)
		return
	}
	authUser := getAuthUser(req.Context())

	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	cmd, err := projection.ParseCommand(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := r.hub.Publish(req.Context(), authUser.ID, cmd); err != nil {
		if errors.Is(err, projection.ErrHubClosed) {
			http.Error(w, `{"error": "server is shutting down"}`, http.StatusServiceUnavailable)
			return
		}
		r.logger.Printf("projection: publish for %s failed: %v", authUser.ID, err)
		captureError(req, err, "projection publish")
		http.Error(w, `{"error": "failed to deliver command"}`, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"type":    cmd.Type,
	})
}
