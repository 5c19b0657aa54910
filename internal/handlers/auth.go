package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/cyppan/simple-site-analytics/internal/auth"
	"github.com/cyppan/simple-site-analytics/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginPageHandler serves the login form, or sends logged-in users to the dashboard
func (h *Handlers) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	next := safeNext(r.URL.Query().Get("next"))
	if id := auth.GetSessionCookie(r); id != "" {
		if valid, _ := h.sessions.ValidateSession(id); valid {
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
	}

	h.render(w, "login.html", map[string]string{"Next": next})
}

// LoginHandler checks credentials and starts a session
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := middleware.ClientIP(r, h.cfg.Server.TrustProxy)
	if !h.logins.AllowLogin(ip) {
		log.Printf("[AUTH] Login blocked for %s after %d failed attempts", ip, h.logins.GetAttempts(ip))
		writeError(w, http.StatusTooManyRequests, "Too many failed attempts, try again later")
		return
	}

	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}

	if err := auth.CheckCredentials(h.cfg.Auth, req.Username, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			log.Printf("[AUTH] Credential check error: %v", err)
		}
		h.logins.RecordAttempt(ip)
		log.Printf("[AUTH] Failed login for %q from %s", req.Username, ip)
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	sessionID, err := h.sessions.CreateSession(req.Username)
	if err != nil {
		log.Printf("[AUTH] Failed to create session: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	h.logins.Reset(ip)

	auth.SetSessionCookie(w, sessionID, h.secureCookies(r))
	log.Printf("[AUTH] %s logged in from %s", req.Username, ip)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "username": req.Username})
}

// LogoutHandler ends the current session. With ?all=1 it ends every
// session of the same user.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := auth.GetSessionCookie(r)
	ended := 0
	if r.URL.Query().Get("all") == "1" {
		if session, err := h.sessions.GetSession(id); err == nil {
			ended = h.sessions.DeleteUserSessions(session.Username)
			log.Printf("[AUTH] %s logged out of %d sessions", session.Username, ended)
		}
	}
	if ended == 0 && id != "" {
		h.sessions.DeleteSession(id)
		ended = 1
	}
	auth.ClearSessionCookie(w, h.secureCookies(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions_ended": ended})
}

// AuthStatusHandler reports who the current session belongs to
func (h *Handlers) AuthStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := h.sessions.GetSession(auth.GetSessionCookie(r))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      session.Username,
		"expires_at":    session.ExpiresAt,
		"sessions":      len(h.sessions.GetUserSessions(session.Username)),
	})
}

func (h *Handlers) secureCookies(r *http.Request) bool {
	return r.TLS != nil || h.cfg.IsProduction()
}

// safeNext only allows redirects to local paths.
// Browsers drop tabs and newlines from URLs, so "/\t/host" would become "//host".
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	if strings.IndexFunc(next, unicode.IsControl) >= 0 {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}
