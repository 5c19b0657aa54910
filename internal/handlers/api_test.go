package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/cyppan/simple-site-analytics/internal/models"
)

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
}

func TestStatsHandler(t *testing.T) {
	e := newTestEnv(t, nil)
	e.track(t, `{"h":"example.com","p":"/"}`)
	e.track(t, `{"h":"example.com","p":"/about"}`)
	e.track(t, `{"h":"example.com","e":"signup"}`)
	e.track(t, `{"h":"other.org","p":"/"}`)
	mux := e.h.Routes()

	rr := get(t, mux, "/api/stats?domain=example.com&period=24h")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var s models.Stats
	decode(t, rr, &s)
	if s.Domain != "example.com" || s.Period != "24h" {
		t.Errorf("stats for %s/%s", s.Domain, s.Period)
	}
	if s.Pageviews != 2 || s.CustomEvents != 1 || s.Visitors != 1 {
		t.Errorf("pageviews=%d events=%d visitors=%d", s.Pageviews, s.CustomEvents, s.Visitors)
	}
	if s.CurrentVisitors != 1 {
		t.Errorf("current visitors = %d", s.CurrentVisitors)
	}

	rr = get(t, mux, "/api/stats")
	decode(t, rr, &s)
	if s.Pageviews != 3 {
		t.Errorf("all domains pageviews = %d, want 3", s.Pageviews)
	}

	for _, target := range []string{"/api/stats?period=1y", "/api/stats?period=custom&from=2024-02-01&to=2024-01-01"} {
		rr = get(t, mux, target)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"error"`) {
			t.Errorf("%s body = %s", target, rr.Body.String())
		}
	}
}

func TestEventsHandler(t *testing.T) {
	e := newTestEnv(t, nil)
	e.track(t, `{"h":"example.com","p":"/first"}`)
	e.track(t, `{"h":"example.com","p":"/second","t":["a","b"]}`)
	e.track(t, `{"h":"other.org","p":"/"}`)
	mux := e.h.Routes()

	var events []models.Event
	decode(t, get(t, mux, "/api/events?domain=WWW.example.com"), &events)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Path != "/second" {
		t.Errorf("newest event path = %s", events[0].Path)
	}
	if diff := cmp.Diff([]string{"a", "b"}, events[0].Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	decode(t, get(t, mux, "/api/events?limit=1"), &events)
	if len(events) != 1 {
		t.Errorf("limit=1 returned %d events", len(events))
	}
}

func TestDomainsHandler(t *testing.T) {
	e := newTestEnv(t, nil)
	e.track(t, `{"h":"example.com"}`)
	e.track(t, `{"h":"example.com","p":"/x"}`)
	e.track(t, `{"h":"other.org"}`)

	var got []models.DomainStat
	decode(t, get(t, e.h.Routes(), "/api/domains"), &got)

	want := []models.DomainStat{{Domain: "example.com", Count: 2}, {Domain: "other.org", Count: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("domains mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigHandlerHidesPasswordHash(t *testing.T) {
	e := newTestEnv(t, nil)

	rr := get(t, e.h.Routes(), "/api/config")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, e.cfg.Auth.PasswordHash) || strings.Contains(body, "password") {
		t.Error("config response leaks the password hash")
	}

	var got map[string]map[string]any
	decode(t, rr, &got)
	if got["auth"]["username"] != "admin" {
		t.Errorf("auth section = %v", got["auth"])
	}
	if _, ok := got["tracking"]["allowed_domains"].([]any); !ok {
		t.Errorf("allowed_domains = %v, want a list", got["tracking"]["allowed_domains"])
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t, nil)
	mux := e.h.Routes()

	for _, path := range []string{"/api/stats", "/api/events", "/api/domains", "/api/config", "/api/live"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d, want 405", path, rr.Code)
		}
	}
}

func TestDashboardHandler(t *testing.T) {
	e := newTestEnv(t, nil)
	e.track(t, `{"h":"example.com","p":"/pricing","ref":"https://news.ycombinator.com/"}`)
	mux := e.h.Routes()

	rr := get(t, mux, "/?domain=example.com&period=7d")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %s", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{"example.com", "/pricing", "news.ycombinator.com", "Chrome"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}

	if rr := get(t, mux, "/dashboard?period=custom&from=2024-01-01&to=2024-01-31"); rr.Code != http.StatusOK {
		t.Errorf("custom range = %d", rr.Code)
	}
	if rr := get(t, mux, "/?period=1y"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad period = %d, want 400", rr.Code)
	}
	if rr := get(t, mux, "/wp-admin"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d, want 404", rr.Code)
	}
}

func TestLiveHandlerStreamsEvents(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.h.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live?domain=example.com"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("live client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, body := range []string{`{"h":"other.org","p":"/ignored"}`, `{"h":"example.com","p":"/live"}`} {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/track", strings.NewReader(body))
		req.Header.Set("User-Agent", chromeUA)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("track status = %d", resp.StatusCode)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Domain != "example.com" || ev.Path != "/live" {
		t.Errorf("streamed %s%s, want example.com/live", ev.Domain, ev.Path)
	}
}
