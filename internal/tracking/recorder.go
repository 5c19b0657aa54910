package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/cyppan/simple-site-analytics/internal/config"
	"github.com/cyppan/simple-site-analytics/internal/metrics"
	"github.com/cyppan/simple-site-analytics/internal/models"
)

// Broadcaster receives every stored event, e.g. the live dashboard hub
type Broadcaster interface {
	Broadcast(ev *models.Event)
}

// DomainNotifier is told about the first event seen for a domain
type DomainNotifier interface {
	NotifyNewDomain(ctx context.Context, domain string) error
}

// Hit is one incoming tracking request after transport decoding
type Hit struct {
	Request   models.TrackRequest
	Source    string
	IP        string
	UserAgent string
	Origin    string
	PageURL   string
	DNT       bool
}

// Deps are the optional collaborators of a Recorder
type Deps struct {
	Broadcaster Broadcaster
	Notifier    DomainNotifier
	Metrics     *metrics.Metrics
}

// Recorder validates hits and stores them as events
type Recorder struct {
	db     *sql.DB
	hasher *Hasher
	cfg    config.TrackingConfig
	deps   Deps
	now    func() time.Time
}

// NewRecorder creates a recorder writing to db
func NewRecorder(db *sql.DB, cfg config.TrackingConfig, deps Deps) *Recorder {
	return &Recorder{
		db:     db,
		hasher: NewHasher(db),
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
	}
}

// Hasher returns the visitor hasher so callers can schedule salt purges
func (r *Recorder) Hasher() *Hasher {
	return r.hasher
}

// Record stores a hit. Hits discarded by policy return an error wrapping ErrDropped.
func (r *Recorder) Record(ctx context.Context, hit Hit) (*models.Event, error) {
	ev, err := Normalize(hit.Request, hit.Source, hit.Origin, hit.PageURL)
	if err != nil {
		return nil, err
	}

	if !DomainAllowed(ev.Domain, r.cfg.AllowedDomains) {
		return nil, ErrDomainNotAllowed
	}

	ua := ParseUserAgent(hit.UserAgent)
	if ua.Bot && r.cfg.IgnoreBots {
		config.Debugf("[TRACK] Dropped bot hit for %s: %q", ev.Domain, hit.UserAgent)
		r.deps.Metrics.EventDropped(DropReason(ErrBot))
		return nil, ErrBot
	}
	if hit.DNT && r.cfg.RespectDNT {
		config.Debugf("[TRACK] Dropped DNT hit for %s", ev.Domain)
		r.deps.Metrics.EventDropped(DropReason(ErrDoNotTrack))
		return nil, ErrDoNotTrack
	}

	ev.Browser = ua.Browser
	ev.OS = ua.OS
	ev.Device = ua.Device
	if d := DeviceForWidth(ev.ScreenWidth); d != "" {
		ev.Device = d
	}

	ev.VisitorID, err = r.hasher.VisitorID(ctx, ev.Domain, hit.IP, hit.UserAgent)
	if err != nil {
		return nil, err
	}
	ev.CreatedAt = r.now().UTC().Truncate(time.Second)

	firstForDomain, err := r.insert(ctx, ev)
	if err != nil {
		return nil, err
	}

	config.Debugf("[TRACK] Recorded %s %s%s via %s (%s, %s, %s)",
		ev.EventType, ev.Domain, ev.Path, ev.SourceType, ev.Browser, ev.OS, ev.Device)
	r.deps.Metrics.EventRecorded(ev.SourceType, ev.EventType)
	if r.deps.Broadcaster != nil {
		r.deps.Broadcaster.Broadcast(ev)
	}
	if firstForDomain {
		go func(domain string) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := r.deps.Notifier.NotifyNewDomain(ctx, domain); err != nil {
				log.Printf("[TRACK] New domain notification failed for %s: %v", domain, err)
			}
		}(ev.Domain)
	}

	return ev, nil
}

// insert stores ev and reports whether it is the first event of its domain.
// The count runs in the same transaction as the insert, which serializes
// concurrent first hits on the SQLite write lock.
func (r *Recorder) insert(ctx context.Context, ev *models.Event) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (domain, source_type, event_type, path, referrer, tags, query_params,
			visitor_id, browser, os, device, screen_width, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Domain, ev.SourceType, ev.EventType, ev.Path, ev.Referrer, ev.TagsToString(), ev.QueryParams,
		ev.VisitorID, ev.Browser, ev.OS, ev.Device, ev.ScreenWidth, ev.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		log.Printf("[TRACK] Failed to read event id for %s: %v", ev.Domain, err)
	}

	first := false
	if r.deps.Notifier != nil {
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM (SELECT 1 FROM events WHERE domain = ? LIMIT 2)", ev.Domain).Scan(&n); err != nil {
			log.Printf("[TRACK] Failed to check first event for %s: %v", ev.Domain, err)
		} else {
			first = n == 1
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit event: %w", err)
	}
	return first, nil
}
