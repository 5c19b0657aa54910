package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cyppan/simple-site-analytics/internal/auth"
)

func login(t *testing.T, e *testEnv, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.h.LoginHandler(rr, req)
	return rr
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestLoginHandler(t *testing.T) {
	e := newTestEnv(t, nil)

	if rr := login(t, e, "admin", "wrong-password"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rr.Code)
	}
	if rr := login(t, e, "root", testPassword); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong username = %d, want 401", rr.Code)
	}

	rr := login(t, e, "admin", testPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(rr)
	if cookie == nil {
		t.Fatal("no session cookie set")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie flags: HttpOnly=%v SameSite=%v", cookie.HttpOnly, cookie.SameSite)
	}
	if valid, _ := e.sessions.ValidateSession(cookie.Value); !valid {
		t.Error("cookie does not name a valid session")
	}
}

func TestLoginHandlerForm(t *testing.T) {
	e := newTestEnv(t, nil)

	form := url.Values{"username": {"admin"}, "password": {testPassword}}
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.h.LoginHandler(rr, req)

	if rr.Code != http.StatusOK || sessionCookie(rr) == nil {
		t.Errorf("form login = %d, cookie %v", rr.Code, sessionCookie(rr))
	}
}

func TestLoginHandlerLockout(t *testing.T) {
	e := newTestEnv(t, nil)

	for i := 0; i < auth.MaxLoginAttempts; i++ {
		if rr := login(t, e, "admin", "nope"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d", i+1, rr.Code)
		}
	}
	if rr := login(t, e, "admin", testPassword); rr.Code != http.StatusTooManyRequests {
		t.Errorf("login after lockout = %d, want 429", rr.Code)
	}
}

func TestLogoutAndStatus(t *testing.T) {
	e := newTestEnv(t, nil)
	mux := e.h.Routes()
	cookie := sessionCookie(login(t, e, "admin", testPassword))

	status := func() map[string]any {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
		req.AddCookie(cookie)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		var got map[string]any
		json.NewDecoder(rr.Body).Decode(&got)
		return got
	}

	if got := status(); got["authenticated"] != true || got["username"] != "admin" {
		t.Errorf("status before logout = %v", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout = %d", rr.Code)
	}
	if c := sessionCookie(rr); c == nil || c.MaxAge >= 0 {
		t.Error("logout did not clear the cookie")
	}

	if got := status(); got["authenticated"] != false {
		t.Errorf("status after logout = %v", got)
	}
}

func TestLogoutAllSessions(t *testing.T) {
	e := newTestEnv(t, nil)
	mux := e.h.Routes()
	first := sessionCookie(login(t, e, "admin", testPassword))
	second := sessionCookie(login(t, e, "admin", testPassword))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	req.AddCookie(first)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	var status map[string]any
	json.NewDecoder(rr.Body).Decode(&status)
	if status["sessions"] != float64(2) {
		t.Errorf("sessions = %v, want 2", status["sessions"])
	}

	req = httptest.NewRequest(http.MethodPost, "/api/logout?all=1", nil)
	req.AddCookie(first)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	var got map[string]any
	json.NewDecoder(rr.Body).Decode(&got)
	if rr.Code != http.StatusOK || got["sessions_ended"] != float64(2) {
		t.Fatalf("logout all = %d %v", rr.Code, got)
	}

	if valid, _ := e.sessions.ValidateSession(second.Value); valid {
		t.Error("other session survived logout all")
	}
}

func TestLoginPageHandler(t *testing.T) {
	e := newTestEnv(t, nil)

	rr := get(t, e.h.Routes(), "/login?next=/dashboard")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `dashboard"`) {
		t.Errorf("login page = %d", rr.Code)
	}

	cookie := sessionCookie(login(t, e, "admin", testPassword))
	req := httptest.NewRequest(http.MethodGet, "/login?next=/dashboard", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	e.h.LoginPageHandler(rr, req)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
		t.Errorf("logged in login page = %d to %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/dashboard?period=30d", "/dashboard?period=30d"},
		{"https://evil.com", "/"},
		{"//evil.com", "/"},
		{"/\\evil.com", "/"},
		{"dashboard", "/"},
		{"/\t/evil.com", "/"},
		{"/\n/evil.com", "/"},
		{"/\r\n/evil.com", "/"},
		{"/%09/evil.com", "/%09/evil.com"},
		{"/dash\x00board", "/"},
	}
	for _, tt := range tests {
		if got := safeNext(tt.in); got != tt.want {
			t.Errorf("safeNext(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
