package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/cyppan/simple-site-analytics/internal/models"
	"github.com/cyppan/simple-site-analytics/internal/stats"
)

var periods = []string{"24h", "7d", "30d", "90d"}

var templateFuncs = template.FuncMap{
	"percent": func(f float64) string {
		return fmt.Sprintf("%.0f%%", f*100)
	},
	// share renders n as a bar width relative to max
	"share": func(n, max int64) int64 {
		if max <= 0 {
			return 0
		}
		return n * 100 / max
	},
	"bucket": func(t time.Time, interval string) string {
		if interval == stats.IntervalHour {
			return t.UTC().Format("Jan 2 15:00")
		}
		return t.UTC().Format("Jan 2")
	},
	"day": func(t time.Time) string {
		return t.UTC().Format("2006-01-02")
	},
	// lastDay shows an exclusive range end as the inclusive date a user picked
	"lastDay": func(t time.Time) string {
		return t.UTC().Add(-time.Second).Format("2006-01-02")
	},
	"dict": func(kv ...any) (map[string]any, error) {
		if len(kv)%2 != 0 {
			return nil, errors.New("dict needs key/value pairs")
		}
		m := make(map[string]any, len(kv)/2)
		for i := 0; i < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				return nil, fmt.Errorf("dict key %v is not a string", kv[i])
			}
			m[key] = kv[i+1]
		}
		return m, nil
	},
}

type dashboardPage struct {
	Stats        *models.Stats
	Domains      []models.DomainStat
	Periods      []string
	Limit        int
	MaxPageviews int64
	MaxPage      int64
}

// DashboardHandler renders the dashboard for the query in the URL
func (h *Handlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/dashboard" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := stats.ParseQuery(r.URL.Query(), h.stats.Now())
	if err != nil {
		http.Error(w, err.Error(), statusForQueryError(err))
		return
	}

	summary, err := h.stats.Summary(r.Context(), q)
	if err != nil {
		log.Printf("Error computing dashboard stats: %v", err)
		http.Error(w, "Failed to load dashboard", http.StatusInternalServerError)
		return
	}
	domains, err := h.stats.Domains(r.Context())
	if err != nil {
		log.Printf("Error querying domains: %v", err)
		http.Error(w, "Failed to load dashboard", http.StatusInternalServerError)
		return
	}

	page := dashboardPage{
		Stats:   summary,
		Domains: domains,
		Periods: periods,
		Limit:   q.Limit,
	}
	for _, ts := range summary.Timeline {
		page.MaxPageviews = max(page.MaxPageviews, ts.Pageviews)
	}
	for _, p := range summary.TopPages {
		page.MaxPage = max(page.MaxPage, p.Pageviews)
	}

	h.render(w, "dashboard.html", page)
}

// render executes into a buffer so a template error never sends a half page
func (h *Handlers) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("Error rendering %s: %v", name, err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}
