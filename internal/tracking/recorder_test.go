package tracking

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyppan/simple-site-analytics/internal/config"
	"github.com/cyppan/simple-site-analytics/internal/metrics"
	"github.com/cyppan/simple-site-analytics/internal/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []*models.Event
}

func (f *fakeBroadcaster) Broadcast(ev *models.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

type fakeNotifier struct {
	domains chan string
}

func (f *fakeNotifier) NotifyNewDomain(ctx context.Context, domain string) error {
	f.domains <- domain
	return nil
}

func defaultTracking() config.TrackingConfig {
	return config.TrackingConfig{IgnoreBots: true, RespectDNT: true}
}

func TestRecordStoresEvent(t *testing.T) {
	db := openTestDB(t)
	bc := &fakeBroadcaster{}
	rec := NewRecorder(db, defaultTracking(), Deps{Broadcaster: bc, Metrics: metrics.New()})
	rec.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC) }

	ev, err := rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "example.com", Path: "/pricing", Referrer: "https://google.com", ScreenWidth: 400},
		Source:    models.SourceScript,
		IP:        "203.0.113.7",
		UserAgent: chromeUA,
	})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if ev.ID == 0 {
		t.Error("Record() should set the event ID")
	}
	if ev.Device != DeviceMobile {
		t.Errorf("Device = %q, screen width should win over UA", ev.Device)
	}

	var domain, path, referrer, browser, visitor string
	var createdAt int64
	err = db.QueryRow(`SELECT domain, path, referrer, browser, visitor_id, created_at FROM events WHERE id = ?`, ev.ID).
		Scan(&domain, &path, &referrer, &browser, &visitor, &createdAt)
	if err != nil {
		t.Fatalf("query stored event: %v", err)
	}
	if domain != "example.com" || path != "/pricing" || referrer != "google.com" || browser != "Chrome" {
		t.Errorf("stored = %s %s %s %s", domain, path, referrer, browser)
	}
	if visitor == "" || visitor == "203.0.113.7" {
		t.Errorf("visitor_id = %q, want an opaque hash", visitor)
	}
	if createdAt != rec.now().Unix() {
		t.Errorf("created_at = %d, want %d", createdAt, rec.now().Unix())
	}

	if len(bc.events) != 1 || bc.events[0].ID != ev.ID {
		t.Errorf("broadcast events = %v", bc.events)
	}
}

func TestRecordDrops(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, defaultTracking(), Deps{})

	_, err := rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "example.com"},
		UserAgent: "Googlebot/2.1",
	})
	if !errors.Is(err, ErrBot) || !errors.Is(err, ErrDropped) {
		t.Errorf("bot hit error = %v, want ErrBot", err)
	}

	_, err = rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "example.com"},
		UserAgent: chromeUA,
		DNT:       true,
	})
	if !errors.Is(err, ErrDoNotTrack) {
		t.Errorf("DNT hit error = %v, want ErrDoNotTrack", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	if count != 0 {
		t.Errorf("dropped hits were stored: %d rows", count)
	}
}

func TestRecordKeepsPhonesNamedLikeBots(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, defaultTracking(), Deps{})

	ev, err := rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "example.com"},
		UserAgent: "Mozilla/5.0 (Linux; Android 9; CUBOT X19) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.99 Mobile Safari/537.36",
	})
	if err != nil {
		t.Fatalf("Record() error = %v, a phone is not a bot", err)
	}
	if ev.OS != "Android" || ev.Device != DeviceMobile {
		t.Errorf("classified as %s/%s", ev.OS, ev.Device)
	}
}

func TestRecordVerboseLogging(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	config.SetVerbose(true)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		config.SetVerbose(false)
	})

	db := openTestDB(t)
	rec := NewRecorder(db, defaultTracking(), Deps{})
	rec.Record(context.Background(), Hit{Request: models.TrackRequest{Hostname: "example.com"}, UserAgent: "curl/8.0"})
	rec.Record(context.Background(), Hit{Request: models.TrackRequest{Hostname: "example.com", Path: "/docs"}, UserAgent: chromeUA})

	out := buf.String()
	if !strings.Contains(out, "[TRACK] Dropped bot hit for example.com") {
		t.Errorf("missing drop debug line in %q", out)
	}
	if !strings.Contains(out, "[TRACK] Recorded pageview example.com/docs") {
		t.Errorf("missing record debug line in %q", out)
	}
}

func TestRecordKeepsBotsWhenConfigured(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db, config.TrackingConfig{}, Deps{})

	if _, err := rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "example.com"},
		UserAgent: "curl/8.0",
		DNT:       true,
	}); err != nil {
		t.Errorf("Record() error = %v, bots and DNT should be accepted", err)
	}
}

func TestRecordAllowedDomains(t *testing.T) {
	db := openTestDB(t)
	cfg := defaultTracking()
	cfg.AllowedDomains = []string{"example.com"}
	rec := NewRecorder(db, cfg, Deps{})

	_, err := rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "evil.com"},
		UserAgent: chromeUA,
	})
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Errorf("error = %v, want ErrDomainNotAllowed", err)
	}

	if _, err := rec.Record(context.Background(), Hit{
		Request:   models.TrackRequest{Hostname: "blog.example.com"},
		UserAgent: chromeUA,
	}); err != nil {
		t.Errorf("subdomain should be allowed, got %v", err)
	}
}

func TestRecordNotifiesNewDomainOnce(t *testing.T) {
	db := openTestDB(t)
	notifier := &fakeNotifier{domains: make(chan string, 4)}
	rec := NewRecorder(db, defaultTracking(), Deps{Notifier: notifier})

	hit := Hit{Request: models.TrackRequest{Hostname: "new.example"}, UserAgent: chromeUA}
	for i := 0; i < 3; i++ {
		if _, err := rec.Record(context.Background(), hit); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case d := <-notifier.domains:
		if d != "new.example" {
			t.Errorf("notified domain = %q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a new domain notification")
	}

	select {
	case d := <-notifier.domains:
		t.Errorf("unexpected second notification for %q", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecordNotifiesConcurrentFirstHitsOnce(t *testing.T) {
	db := openTestDB(t)
	notifier := &fakeNotifier{domains: make(chan string, 16)}
	rec := NewRecorder(db, defaultTracking(), Deps{Notifier: notifier})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hit := Hit{Request: models.TrackRequest{Hostname: "race.example"}, IP: "198.51.100.1", UserAgent: chromeUA}
			if _, err := rec.Record(context.Background(), hit); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Record() error: %v", err)
	}

	select {
	case <-notifier.domains:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a new domain notification")
	}
	select {
	case d := <-notifier.domains:
		t.Errorf("duplicate notification for %q", d)
	case <-time.After(200 * time.Millisecond):
	}
}
