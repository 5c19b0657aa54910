package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cyppan/simple-site-analytics/internal/models"
)

// currentWindow is how far back a visitor still counts as on the site
const currentWindow = 5 * time.Minute

// Service answers dashboard queries from the events table
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a stats service on db
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Now returns the service clock, used to evaluate rolling periods
func (s *Service) Now() time.Time {
	return s.now()
}

// filter renders the WHERE clause shared by every summary query
func filter(q Query) (string, []any) {
	where := []string{"created_at >= ?", "created_at < ?"}
	args := []any{q.From.Unix(), q.To.Unix()}
	if q.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, q.Domain)
	}
	return strings.Join(where, " AND "), args
}

// Summary computes the dashboard numbers for q
func (s *Service) Summary(ctx context.Context, q Query) (*models.Stats, error) {
	st := &models.Stats{
		Domain:   q.Domain,
		Period:   q.Period,
		From:     q.From,
		To:       q.To,
		Interval: q.Interval,
	}
	where, args := filter(q)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN event_type = 'pageview' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type != 'pageview' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT visitor_id)
		FROM events WHERE `+where, args...).Scan(&st.Pageviews, &st.CustomEvents, &st.Visitors)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}

	if st.Visitors > 0 {
		var bounced int64
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM (
				SELECT visitor_id FROM events
				WHERE `+where+` AND event_type = 'pageview'
				GROUP BY visitor_id HAVING COUNT(*) = 1
			)`, args...).Scan(&bounced)
		if err != nil {
			return nil, fmt.Errorf("failed to query bounce rate: %w", err)
		}
		st.BounceRate = float64(bounced) / float64(st.Visitors)
	}

	if st.CurrentVisitors, err = s.CurrentVisitors(ctx, q.Domain); err != nil {
		return nil, err
	}

	if st.TopPages, err = s.topPages(ctx, where, args, q.Limit); err != nil {
		return nil, err
	}
	if st.TopReferrers, err = s.topReferrers(ctx, where, args, q.Limit); err != nil {
		return nil, err
	}
	if st.TopEvents, err = s.breakdown(ctx, "event_type", where+" AND event_type != 'pageview'", args, q.Limit, false); err != nil {
		return nil, err
	}
	if st.Browsers, err = s.breakdown(ctx, "browser", where, args, q.Limit, true); err != nil {
		return nil, err
	}
	if st.OS, err = s.breakdown(ctx, "os", where, args, q.Limit, true); err != nil {
		return nil, err
	}
	if st.Devices, err = s.breakdown(ctx, "device", where, args, q.Limit, true); err != nil {
		return nil, err
	}
	if st.Timeline, err = s.timeline(ctx, q, where, args); err != nil {
		return nil, err
	}

	return st, nil
}

// CurrentVisitors counts distinct visitors seen in the last few minutes
func (s *Service) CurrentVisitors(ctx context.Context, domain string) (int64, error) {
	query := "SELECT COUNT(DISTINCT visitor_id) FROM events WHERE created_at >= ?"
	args := []any{s.now().Add(-currentWindow).Unix()}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to query current visitors: %w", err)
	}
	return n, nil
}

func (s *Service) topPages(ctx context.Context, where string, args []any, limit int) ([]models.PageStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, COUNT(*) AS views, COUNT(DISTINCT visitor_id) AS visitors
		FROM events
		WHERE `+where+` AND event_type = 'pageview'
		GROUP BY path
		ORDER BY views DESC, path ASC
		LIMIT ?`, withArgs(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	pages := []models.PageStat{}
	for rows.Next() {
		var p models.PageStat
		if err := rows.Scan(&p.Path, &p.Pageviews, &p.Visitors); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *Service) topReferrers(ctx context.Context, where string, args []any, limit int) ([]models.ReferrerStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT referrer, COUNT(DISTINCT visitor_id) AS visitors
		FROM events
		WHERE `+where+` AND referrer != ''
		GROUP BY referrer
		ORDER BY visitors DESC, referrer ASC
		LIMIT ?`, withArgs(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrers: %w", err)
	}
	defer rows.Close()

	refs := []models.ReferrerStat{}
	for rows.Next() {
		var r models.ReferrerStat
		if err := rows.Scan(&r.Referrer, &r.Visitors); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// breakdown groups by column. distinctVisitors counts visitors instead of events.
// column is always a constant chosen by this package, never user input.
func (s *Service) breakdown(ctx context.Context, column, where string, args []any, limit int, distinctVisitors bool) ([]models.BreakdownStat, error) {
	count := "COUNT(*)"
	if distinctVisitors {
		count = "COUNT(DISTINCT visitor_id)"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+` AS name, `+count+` AS n
		FROM events
		WHERE `+where+` AND `+column+` != ''
		GROUP BY name
		ORDER BY n DESC, name ASC
		LIMIT ?`, withArgs(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s breakdown: %w", column, err)
	}
	defer rows.Close()

	out := []models.BreakdownStat{}
	for rows.Next() {
		var b models.BreakdownStat
		if err := rows.Scan(&b.Name, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// timeline buckets pageviews and visitors and fills empty buckets with zeros
func (s *Service) timeline(ctx context.Context, q Query, where string, args []any) ([]models.TimelineStat, error) {
	width := q.BucketSeconds()
	offset := q.From.Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ((created_at - ?) / ?) AS bucket,
			SUM(CASE WHEN event_type = 'pageview' THEN 1 ELSE 0 END),
			COUNT(DISTINCT visitor_id)
		FROM events
		WHERE `+where+`
		GROUP BY bucket`, append([]any{offset, width}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]models.TimelineStat)
	for rows.Next() {
		var bucket int64
		var ts models.TimelineStat
		if err := rows.Scan(&bucket, &ts.Pageviews, &ts.Visitors); err != nil {
			return nil, err
		}
		counts[bucket] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	buckets := q.Buckets()
	timeline := make([]models.TimelineStat, len(buckets))
	for i, start := range buckets {
		ts := counts[int64(i)]
		ts.Timestamp = start
		timeline[i] = ts
	}
	return timeline, nil
}

// Domains lists tracked domains with their event counts, busiest first
func (s *Service) Domains(ctx context.Context) ([]models.DomainStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, COUNT(*) AS count
		FROM events
		GROUP BY domain
		ORDER BY count DESC, domain ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query domains: %w", err)
	}
	defer rows.Close()

	domains := []models.DomainStat{}
	for rows.Next() {
		var ds models.DomainStat
		if err := rows.Scan(&ds.Domain, &ds.Count); err != nil {
			return nil, err
		}
		domains = append(domains, ds)
	}
	return domains, rows.Err()
}

// RecentEvents returns the newest events, optionally for one domain
func (s *Service) RecentEvents(ctx context.Context, domain string, limit int) ([]models.Event, error) {
	query := `SELECT id, domain, source_type, event_type, path, referrer, tags, query_params,
		visitor_id, browser, os, device, screen_width, created_at FROM events`
	args := []any{}
	if domain != "" {
		query += " WHERE domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		var tags string
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.Domain, &ev.SourceType, &ev.EventType, &ev.Path, &ev.Referrer,
			&tags, &ev.QueryParams, &ev.VisitorID, &ev.Browser, &ev.OS, &ev.Device, &ev.ScreenWidth, &createdAt); err != nil {
			return nil, err
		}
		ev.TagsFromString(tags)
		ev.CreatedAt = time.Unix(createdAt, 0).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// withArgs copies args before appending so shared filter args are never aliased
func withArgs(args []any, extra ...any) []any {
	out := make([]any, 0, len(args)+len(extra))
	out = append(out, args...)
	return append(out, extra...)
}
