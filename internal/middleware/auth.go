package middleware

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/cyppan/simple-site-analytics/internal/auth"
	"github.com/cyppan/simple-site-analytics/internal/config"
)

// publicPaths never require a dashboard session
var publicPaths = []string{
	"/track",
	"/pixel.gif",
	"/script.js",
	"/login",
	"/api/login",
	"/health",
}

// AuthMiddleware requires a valid session on every dashboard path
func AuthMiddleware(sessionStore *auth.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requiresAuth(r.URL.Path, config.Get().Metrics.Enabled) {
				next.ServeHTTP(w, r)
				return
			}

			sessionID := auth.GetSessionCookie(r)
			if sessionID == "" {
				redirectToLogin(w, r)
				return
			}

			valid, err := sessionStore.ValidateSession(sessionID)
			if err != nil {
				log.Printf("[AUTH] Session validation error: %v", err)
			}
			if !valid {
				log.Printf("[AUTH] Invalid or expired session for %s %s", r.Method, r.URL.Path)
				redirectToLogin(w, r)
				return
			}

			// Sliding expiry keeps an open dashboard logged in
			sessionStore.RefreshSession(sessionID)
			next.ServeHTTP(w, r)
		})
	}
}

// requiresAuth returns true if the path requires authentication
func requiresAuth(path string, metricsPublic bool) bool {
	if metricsPublic && path == "/metrics" {
		return false
	}
	for _, public := range publicPaths {
		if path == public {
			return false
		}
	}
	return true
}

// redirectToLogin answers API calls with 401 and sends browsers to the login page
func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Authentication required"}`))
		return
	}
	target := "/login"
	if r.URL.Path != "/" {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
