package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/cyppan/simple-site-analytics/internal/models"
	"github.com/cyppan/simple-site-analytics/internal/tracking"
)

// transparentGIF is a 1x1 transparent GIF89a
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
	0x44, 0x01, 0x00, 0x3b,
}

// PixelHandler records a hit from query parameters and always answers with
// the GIF, so a broken hit never shows a broken image
func (h *Handlers) PixelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Method == http.MethodGet {
		req := pixelRequest(r)
		if _, err := h.recorder.Record(r.Context(), h.hit(r, req, models.SourcePixel)); err != nil &&
			!errors.Is(err, tracking.ErrDropped) {
			log.Printf("[TRACK] Pixel hit rejected: %v", err)
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(transparentGIF)))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(transparentGIF)
}

// ScriptHandler serves the embedded tracker script
func (h *Handlers) ScriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(h.script)
}

// pixelRequest reads the beacon keys from the query string. Tags are comma separated.
func pixelRequest(r *http.Request) models.TrackRequest {
	q := r.URL.Query()
	req := models.TrackRequest{
		Hostname:  q.Get("h"),
		Domain:    q.Get("d"),
		Path:      q.Get("p"),
		EventType: q.Get("e"),
		Referrer:  q.Get("ref"),
	}
	if t := q.Get("t"); t != "" {
		req.Tags = strings.Split(t, ",")
	}
	if w, err := strconv.Atoi(q.Get("w")); err == nil {
		req.ScreenWidth = w
	}
	return req
}
