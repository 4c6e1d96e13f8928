package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lukasbauer/versecast/internal/detect"
	"github.com/lukasbauer/versecast/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleCreateHistory records a verse the operator selected
func (r *Router) handleCreateHistory(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())

	var body struct {
		Reference  string  `json:"reference"`
		Text       string  `json:"text"`
		Version    string  `json:"version"`
		Confidence int     `json:"confidence"`
		Transcript *string `json:"transcript"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	body.Reference = strings.TrimSpace(body.Reference)
	if body.Reference == "" || strings.TrimSpace(body.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference and text are required"})
		return
	}
	if body.Confidence < 0 || body.Confidence > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "confidence must be between 0 and 100"})
		return
	}
	if body.Version == "" {
		body.Version = detect.DefaultVersion
	}

	h, err := r.store.InsertDetectionHistory(req.Context(), store.DetectionHistory{
		UserID:     authUser.ID,
		Reference:  body.Reference,
		Text:       body.Text,
		Version:    body.Version,
		Confidence: body.Confidence,
		Transcript: body.Transcript,
	})
	if err != nil {
		r.logger.Printf("history: insert for %s failed: %v", authUser.ID, err)
		captureError(req, err, "insert detection history")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// handleListHistory returns the user's selections, newest first
func (r *Router) handleListHistory(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())

	limit, err := limitParam(req, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	items, err := r.store.ListDetectionHistory(req.Context(), authUser.ID, limit)
	if err != nil {
		r.logger.Printf("history: list for %s failed: %v", authUser.ID, err)
		captureError(req, err, "list detection history")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.DetectionHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}
