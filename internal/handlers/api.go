package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/cyppan/simple-site-analytics/internal/stats"
	"github.com/cyppan/simple-site-analytics/internal/tracking"
)

// StatsHandler returns the dashboard summary for the query parameters
func (h *Handlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := stats.ParseQuery(r.URL.Query(), h.stats.Now())
	if err != nil {
		writeError(w, statusForQueryError(err), err.Error())
		return
	}

	summary, err := h.stats.Summary(r.Context(), q)
	if err != nil {
		log.Printf("Error computing stats: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// EventsHandler returns the newest events, optionally for one domain
func (h *Handlers) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	domain := tracking.NormalizeDomain(query.Get("domain"))
	limit := parseInt(query.Get("limit"), 50, 1, 500)

	events, err := h.stats.RecentEvents(r.Context(), domain, limit)
	if err != nil {
		log.Printf("Error querying events: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// DomainsHandler returns tracked domains with event counts
func (h *Handlers) DomainsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	domains, err := h.stats.Domains(r.Context())
	if err != nil {
		log.Printf("Error querying domains: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to query domains")
		return
	}
	writeJSON(w, http.StatusOK, domains)
}

// ConfigHandler returns the current configuration without secrets
func (h *Handlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.cfg
	allowed := cfg.Tracking.AllowedDomains
	if allowed == nil {
		allowed = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"port":     cfg.Server.Port,
			"domain":   cfg.Server.Domain,
			"env":      cfg.Server.Env,
			"auto_tls": cfg.Server.AutoTLS,
		},
		"database": map[string]any{
			"path": cfg.Database.Path,
		},
		"auth": map[string]any{
			// The password hash is never exposed
			"username": cfg.Auth.Username,
		},
		"ntfy": map[string]any{
			"topic": cfg.Ntfy.Topic,
			"url":   cfg.Ntfy.URL,
		},
		"tracking": map[string]any{
			"allowed_domains": allowed,
			"ignore_bots":     cfg.Tracking.IgnoreBots,
			"respect_dnt":     cfg.Tracking.RespectDNT,
			"rate_limit":      cfg.Tracking.RateLimit,
			"rate_burst":      cfg.Tracking.RateBurst,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
		},
	})
}

// LiveHandler upgrades to a websocket that streams new events
func (h *Handlers) LiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.hub.ServeWS(w, r, tracking.NormalizeDomain(r.URL.Query().Get("domain")))
}

// statusForQueryError maps query parsing errors to HTTP status codes
func statusForQueryError(err error) int {
	if errors.Is(err, stats.ErrInvalidPeriod) || errors.Is(err, stats.ErrInvalidRange) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
