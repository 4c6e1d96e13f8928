package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lukasbauer/versecast/internal/detect"
	"github.com/lukasbauer/versecast/internal/projection"
	"github.com/lukasbauer/versecast/internal/store"
)

type settingsResponse struct {
	BibleVersion        string              `json:"bibleVersion"`
	ConfidenceThreshold int                 `json:"confidenceThreshold"`
	Projection          projection.Settings `json:"projection"`
}

// loadSettings returns the user's saved settings merged over the defaults.
func (r *Router) loadSettings(req *http.Request, userID string) (settingsResponse, error) {
	out := settingsResponse{
		BibleVersion:        detect.DefaultVersion,
		ConfidenceThreshold: r.cfg.DefaultConfidenceThreshold,
		Projection:          projection.DefaultSettings(),
	}
	us, err := r.store.GetUserSettings(req.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.BibleVersion = us.BibleVersion
	out.ConfidenceThreshold = us.ConfidenceThreshold
	if ps, err := projection.DecodeSettings(us.Projection); err != nil {
		r.logger.Printf("settings: ignoring unreadable projection settings for %s: %v", userID, err)
	} else {
		out.Projection = ps
	}
	return out, nil
}

func (r *Router) handleGetSettings(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	settings, err := r.loadSettings(req, authUser.ID)
	if err != nil {
		r.logger.Printf("settings: load for %s failed: %v", authUser.ID, err)
		captureError(req, err, "load settings")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings applies a partial update; omitted fields keep their
// current values.
func (r *Router) handlePutSettings(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())

	var body struct {
		BibleVersion        *string                   `json:"bibleVersion"`
		ConfidenceThreshold *int                      `json:"confidenceThreshold"`
		Projection          *projection.SettingsPatch `json:"projection"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.ConfidenceThreshold != nil && (*body.ConfidenceThreshold < 0 || *body.ConfidenceThreshold > 100) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "confidenceThreshold must be between 0 and 100"})
		return
	}
	if body.BibleVersion != nil && strings.TrimSpace(*body.BibleVersion) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bibleVersion must not be empty"})
		return
	}
	if body.Projection != nil {
		if err := body.Projection.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	current, err := r.loadSettings(req, authUser.ID)
	if err != nil {
		r.logger.Printf("settings: load for %s failed: %v", authUser.ID, err)
		captureError(req, err, "load settings")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if body.BibleVersion != nil {
		current.BibleVersion = strings.ToUpper(strings.TrimSpace(*body.BibleVersion))
	}
	if body.ConfidenceThreshold != nil {
		current.ConfidenceThreshold = *body.ConfidenceThreshold
	}
	if body.Projection != nil {
		current.Projection = current.Projection.Apply(*body.Projection)
	}

	projectionJSON, err := json.Marshal(current.Projection)
	if err != nil {
		http.Error(w, `{"error": "failed to encode settings"}`, http.StatusInternalServerError)
		return
	}
	err = r.store.UpsertUserSettings(req.Context(), authUser.ID, store.UserSettings{
		BibleVersion:        current.BibleVersion,
		ConfidenceThreshold: current.ConfidenceThreshold,
		Projection:          projectionJSON,
	})
	if err != nil {
		r.logger.Printf("settings: save for %s failed: %v", authUser.ID, err)
		captureError(req, err, "save settings")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	// Live displays pick up projection changes immediately.
	if body.Projection != nil && r.hub != nil {
		if err := r.hub.Publish(req.Context(), authUser.ID, projection.UpdateSettings(*body.Projection)); err != nil {
			r.logger.Printf("settings: projection update for %s not delivered: %v", authUser.ID, err)
		}
	}

	writeJSON(w, http.StatusOK, current)
}
