// Package notifier pushes alerts about tracked traffic to an ntfy.sh topic.
package notifier

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cyppan/simple-site-analytics/internal/config"
)

// Notification types
const (
	NotificationTrafficSpike = "traffic_spike"
	NotificationNewDomain    = "new_domain"
	NotificationError        = "error"
)

const (
	spikeFactor    = 10
	spikeMinEvents = 10
	// spikeCooldown stops a sustained spike from alerting on every check
	spikeCooldown = time.Hour
)

// Notifier sends ntfy notifications and records them in the notifications table
type Notifier struct {
	db     *sql.DB
	cfg    config.NtfyConfig
	mock   bool
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	lastSpike time.Time
}

// New creates a notifier. With mock set, notifications are logged instead of sent.
func New(db *sql.DB, cfg config.NtfyConfig, mock bool) *Notifier {
	if cfg.URL == "" {
		cfg.URL = config.DefaultNtfyURL
	}
	return &Notifier{
		db:     db,
		cfg:    cfg,
		mock:   mock,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

type payload struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
}

// priority maps a notification type to an ntfy priority (1 min, 5 max)
func priority(notificationType string) int {
	switch notificationType {
	case NotificationError:
		return 4
	case NotificationTrafficSpike:
		return 3
	default:
		return 2
	}
}

// Send posts a notification to the configured topic
func (n *Notifier) Send(ctx context.Context, title, message, notificationType string) error {
	if n.mock {
		log.Printf("[NTFY MOCK] Type: %s, Title: %s, Message: %s", notificationType, title, message)
		return n.logNotification(ctx, notificationType, title+": "+message)
	}

	if n.cfg.Topic == "" {
		log.Println("[NTFY] Topic not configured, skipping notification")
		return nil
	}

	body, err := json.Marshal(payload{
		Topic:    n.cfg.Topic,
		Title:    title,
		Message:  message,
		Tags:     []string{"ssa", notificationType},
		Priority: priority(notificationType),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// JSON publishing goes to the server root, the topic is in the body
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(n.cfg.URL, "/"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}

	log.Printf("[NTFY] Notification sent: %s - %s", title, message)
	return n.logNotification(ctx, notificationType, title+": "+message)
}

func (n *Notifier) logNotification(ctx context.Context, notificationType, message string) error {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO notifications (notification_type, message, sent_at)
		VALUES (?, ?, ?)
	`, notificationType, message, n.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// NotifyNewDomain announces the first event from a domain
func (n *Notifier) NotifyNewDomain(ctx context.Context, domain string) error {
	if domain == "" {
		return nil
	}
	return n.Send(ctx, "New Domain Detected", "First event from domain: "+domain, NotificationNewDomain)
}

// CheckTrafficSpike alerts when the last hour carries more than ten times the
// hourly average of the 24 hours before it
func (n *Notifier) CheckTrafficSpike(ctx context.Context) error {
	now := n.now()
	hourAgo := now.Add(-time.Hour)
	dayBefore := hourAgo.Add(-24 * time.Hour)

	var current, previous int64
	err := n.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at < ? THEN 1 ELSE 0 END), 0)
		FROM events
		WHERE created_at >= ? AND created_at <= ?
	`, hourAgo.Unix(), hourAgo.Unix(), dayBefore.Unix(), now.Unix()).Scan(&current, &previous)
	if err != nil {
		return fmt.Errorf("failed to count traffic: %w", err)
	}

	avg := float64(previous) / 24
	if current <= spikeMinEvents || float64(current) <= avg*spikeFactor {
		return nil
	}

	n.mu.Lock()
	if !n.lastSpike.IsZero() && now.Sub(n.lastSpike) < spikeCooldown {
		n.mu.Unlock()
		return nil
	}
	n.lastSpike = now
	n.mu.Unlock()

	return n.Send(ctx,
		"Traffic Spike Detected",
		fmt.Sprintf("Last hour: %d events (hourly avg: %.1f)", current, avg),
		NotificationTrafficSpike,
	)
}

// NotifyError sends an error notification
func (n *Notifier) NotifyError(ctx context.Context, errorMsg string) error {
	return n.Send(ctx, "Error Detected", errorMsg, NotificationError)
}
