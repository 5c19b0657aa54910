package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/cyppan/simple-site-analytics/internal/middleware"
	"github.com/cyppan/simple-site-analytics/internal/models"
	"github.com/cyppan/simple-site-analytics/internal/tracking"
)

// TrackHandler receives beacons from script.js. It accepts application/json
// and the text/plain bodies that navigator.sendBeacon sends.
func (h *Handlers) TrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, middleware.MaxTrackBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var req models.TrackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	_, err = h.recorder.Record(r.Context(), h.hit(r, req, models.SourceScript))
	switch {
	case err == nil, errors.Is(err, tracking.ErrDropped):
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, tracking.ErrMissingDomain), errors.Is(err, tracking.ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tracking.ErrDomainNotAllowed):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Printf("[TRACK] Failed to record event: %v", err)
		http.Error(w, "Failed to record event", http.StatusInternalServerError)
	}
}

func (h *Handlers) hit(r *http.Request, req models.TrackRequest, source string) tracking.Hit {
	return tracking.Hit{
		Request:   req,
		Source:    source,
		IP:        middleware.ClientIP(r, h.cfg.Server.TrustProxy),
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
		PageURL:   r.Referer(),
		DNT:       r.Header.Get("DNT") == "1",
	}
}
