// Package handlers implements the HTTP surface: tracking endpoints, the
// dashboard pages and the JSON API behind them.
package handlers

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"

	"github.com/cyppan/simple-site-analytics/internal/auth"
	"github.com/cyppan/simple-site-analytics/internal/config"
	"github.com/cyppan/simple-site-analytics/internal/database"
	"github.com/cyppan/simple-site-analytics/internal/live"
	"github.com/cyppan/simple-site-analytics/internal/metrics"
	"github.com/cyppan/simple-site-analytics/internal/stats"
	"github.com/cyppan/simple-site-analytics/internal/tracking"
)

//go:embed web/templates/*.html web/script.js
var webFS embed.FS

// Options are the components the handlers are built from. Metrics may be nil.
type Options struct {
	Config   *config.Config
	DB       *sql.DB
	Recorder *tracking.Recorder
	Stats    *stats.Service
	Hub      *live.Hub
	Sessions *auth.SessionStore
	Logins   *auth.RateLimiter
	Metrics  *metrics.Metrics
}

// Handlers serves every route of the analytics server
type Handlers struct {
	cfg       *config.Config
	db        *sql.DB
	recorder  *tracking.Recorder
	stats     *stats.Service
	hub       *live.Hub
	sessions  *auth.SessionStore
	logins    *auth.RateLimiter
	metrics   *metrics.Metrics
	templates *template.Template
	script    []byte
}

// New checks the required components and parses the embedded templates
func New(opts Options) (*Handlers, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("handlers: config is required")
	case opts.DB == nil:
		return nil, errors.New("handlers: database is required")
	case opts.Recorder == nil || opts.Stats == nil:
		return nil, errors.New("handlers: recorder and stats service are required")
	case opts.Hub == nil || opts.Sessions == nil || opts.Logins == nil:
		return nil, errors.New("handlers: live hub, session store and login limiter are required")
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(webFS, "web/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	script, err := webFS.ReadFile("web/script.js")
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker script: %w", err)
	}

	return &Handlers{
		cfg:       opts.Config,
		db:        opts.DB,
		recorder:  opts.Recorder,
		stats:     opts.Stats,
		hub:       opts.Hub,
		sessions:  opts.Sessions,
		logins:    opts.Logins,
		metrics:   opts.Metrics,
		templates: tmpl,
		script:    script,
	}, nil
}

// Routes registers every handler on a new mux
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Authentication
	mux.HandleFunc("/login", h.LoginPageHandler)
	mux.HandleFunc("/api/login", h.LoginHandler)
	mux.HandleFunc("/api/logout", h.LogoutHandler)
	mux.HandleFunc("/api/auth/status", h.AuthStatusHandler)

	// Public tracking endpoints
	mux.HandleFunc("/track", h.TrackHandler)
	mux.HandleFunc("/pixel.gif", h.PixelHandler)
	mux.HandleFunc("/script.js", h.ScriptHandler)

	// Dashboard API
	mux.HandleFunc("/api/stats", h.StatsHandler)
	mux.HandleFunc("/api/events", h.EventsHandler)
	mux.HandleFunc("/api/domains", h.DomainsHandler)
	mux.HandleFunc("/api/config", h.ConfigHandler)
	mux.HandleFunc("/api/live", h.LiveHandler)

	mux.HandleFunc("/health", h.HealthHandler)
	if h.cfg.Metrics.Enabled {
		mux.Handle("/metrics", h.metrics.Handler())
	}

	// Dashboard pages, "/" also catches unknown paths and answers 404
	mux.HandleFunc("/", h.DashboardHandler)

	return mux
}

// HealthHandler reports whether the database answers
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := database.HealthCheck(r.Context(), h.db); err != nil {
		log.Printf("Health check failed: %v", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseInt parses s with a default and clamps it to [min, max]
func parseInt(s string, def, min, max int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
