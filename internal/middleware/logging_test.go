package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cyppan/simple-site-analytics/internal/auth"
	"github.com/cyppan/simple-site-analytics/internal/config"
	"github.com/cyppan/simple-site-analytics/internal/metrics"
)

func TestLoggingRecordsStatus(t *testing.T) {
	m := metrics.New()
	handler := Logging(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK) // ignored, first status wins
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d", rr.Code)
	}
	n, err := testutil.GatherAndCount(m.Registry(), "ssa_http_request_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected one latency series, got %d", n)
	}
	if !strings.Contains(dumpMetrics(t, m), `code="418"`) {
		t.Error("latency series should be labelled with the status code")
	}
}

func dumpMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestLoggingNilMetrics(t *testing.T) {
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })

	tests := []struct {
		name       string
		env        string
		method     string
		path       string
		wantOrigin string
		wantStatus int
	}{
		{"tracking in production", "production", http.MethodPost, "/track", "*", http.StatusAccepted},
		{"preflight", "production", http.MethodOptions, "/track", "*", http.StatusNoContent},
		{"dashboard in production", "production", http.MethodGet, "/api/stats", "", http.StatusAccepted},
		{"dashboard in development", "development", http.MethodGet, "/api/stats", "*", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useConfig(t, func(c *config.Config) { c.Server.Env = tt.env })
			rr := httptest.NewRecorder()
			CORS(next).ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestTrackRateLimit(t *testing.T) {
	limiter := auth.NewIPLimiter(1, 2)
	defer limiter.Stop()
	handler := TrackRateLimit(limiter, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("/track"); code != http.StatusOK {
			t.Fatalf("request %d = %d", i+1, code)
		}
	}
	if code := send("/pixel.gif"); code != http.StatusTooManyRequests {
		t.Errorf("over limit = %d, want 429", code)
	}
	if code := send("/api/stats"); code != http.StatusOK {
		t.Errorf("dashboard routes are not rate limited, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		forwarded  string
		realIP     string
		trustProxy bool
		want       string
	}{
		{"remote addr", "198.51.100.1:1234", "", "", false, "198.51.100.1"},
		{"forwarded ignored when untrusted", "198.51.100.1:1234", "203.0.113.9", "", false, "198.51.100.1"},
		{"forwarded first valid", "10.0.0.1:1234", "garbage, 203.0.113.9, 10.0.0.2", "", true, "203.0.113.9"},
		{"real ip fallback", "10.0.0.1:1234", "", "203.0.113.5", true, "203.0.113.5"},
		{"trusted but no headers", "10.0.0.1:1234", "", "", true, "10.0.0.1"},
		{"ipv6", "[2001:db8::1]:443", "", "", false, "2001:db8::1"},
		{"no port", "198.51.100.1", "", "", false, "198.51.100.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/track", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
