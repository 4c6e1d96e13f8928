package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lukasbauer/versecast/internal/detect"
	"github.com/lukasbauer/versecast/internal/scripture"
	"github.com/lukasbauer/versecast/internal/store"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

func versionParam(req *http.Request) string {
	if v := strings.TrimSpace(req.URL.Query().Get("version")); v != "" {
		return strings.ToUpper(v)
	}
	return detect.DefaultVersion
}

// limitParam parses ?limit=, clamping to [1,max].
func limitParam(req *http.Request, def, max int) (int, error) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// handleSearchVerses is the operator's manual search override
func (r *Router) handleSearchVerses(w http.ResponseWriter, req *http.Request) {
	q := strings.TrimSpace(req.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit, err := limitParam(req, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	version := versionParam(req)

	// A query that is itself a reference jumps straight to that verse.
	if ref, err := scripture.ParseReference(q); err == nil {
		v, err := r.verses.GetVerse(req.Context(), ref.Key(), version)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"verses": []store.Verse{*v}})
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Printf("verses: lookup %s failed: %v", ref.Key(), err)
			captureError(req, err, "verse lookup")
			http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
			return
		}
	}

	verses, err := r.verses.SearchVerses(req.Context(), q, version, limit)
	if err != nil {
		r.logger.Printf("verses: search %q failed: %v", q, err)
		captureError(req, err, "verse search")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if verses == nil {
		verses = []store.Verse{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"verses": verses})
}

// handleGetVerse returns a single verse; ranges resolve to their first verse
func (r *Router) handleGetVerse(w http.ResponseWriter, req *http.Request) {
	raw := req.PathValue("reference")
	ref, err := scripture.ParseReference(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	v, err := r.verses.GetVerse(req.Context(), ref.Key(), versionParam(req))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "verse not found"})
		return
	}
	if err != nil {
		r.logger.Printf("verses: lookup %s failed: %v", ref.Key(), err)
		captureError(req, err, "verse lookup")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
