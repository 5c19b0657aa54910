package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// SessionCookieName is the cookie that carries the dashboard session ID
	SessionCookieName = "ssa_session"

	// SessionTTL is how long a dashboard login stays valid without activity
	SessionTTL = 24 * time.Hour
)

// Session is an authenticated dashboard login
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStore keeps dashboard sessions in memory. A restart logs everyone out.
type SessionStore struct {
	sessions map[string]*Session
	ttl      time.Duration
	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionStore creates a store and starts its cleanup loop
func NewSessionStore(ttl time.Duration) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Stop ends the cleanup loop
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// CreateSession starts a session for username and returns its ID
func (s *SessionStore) CreateSession(username string) (string, error) {
	if username == "" {
		return "", errors.New("username cannot be empty")
	}

	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	s.mu.Lock()
	s.sessions[id] = &Session{ID: id, Username: username, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	s.mu.Unlock()

	return id, nil
}

// ValidateSession reports whether id names a live session
func (s *SessionStore) ValidateSession(id string) (bool, error) {
	if id == "" {
		return false, errors.New("session ID cannot be empty")
	}

	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if session.expired(time.Now()) {
		s.DeleteSession(id)
		return false, nil
	}
	return true, nil
}

// GetSession returns a copy of a live session
func (s *SessionStore) GetSession(id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.expired(time.Now()) {
		return nil, errors.New("session not found")
	}
	cp := *session
	return &cp, nil
}

// RefreshSession slides the expiry of a live session forward
func (s *SessionStore) RefreshSession(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.expired(time.Now()) {
		return errors.New("session not found")
	}
	session.ExpiresAt = time.Now().Add(s.ttl)
	return nil
}

// DeleteSession removes one session
func (s *SessionStore) DeleteSession(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// DeleteUserSessions removes every session of username and returns how many were removed
func (s *SessionStore) DeleteUserSessions(username string) int {
	if username == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, session := range s.sessions {
		if session.Username == username {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// GetUserSessions lists the sessions of username
func (s *SessionStore) GetUserSessions(username string) []*Session {
	if username == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Session{}
	for _, session := range s.sessions {
		if session.Username == username {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out
}

// Count returns the number of stored sessions, expired ones included until cleanup
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired(time.Now())
		}
	}
}

func (s *SessionStore) removeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, session := range s.sessions {
		if session.expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// generateSessionID returns 32 random bytes, URL-safe base64 encoded
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GetSessionCookie returns the session ID from the request, or "" when absent
func GetSessionCookie(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetSessionCookie writes the session cookie. secure should be true behind HTTPS.
func SetSessionCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie in the browser
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}
