package stats

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cyppan/simple-site-analytics/internal/tracking"
)

// Intervals for timeline buckets
const (
	IntervalHour = "hour"
	IntervalDay  = "day"
)

const (
	defaultPeriod = "7d"
	defaultLimit  = 10
	maxLimit      = 100
	maxRangeDays  = 366
)

var (
	// ErrInvalidPeriod means the period parameter is not recognised
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidRange means custom from/to are malformed, reversed, or too wide
	ErrInvalidRange = errors.New("invalid date range")
)

var periods = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// Query selects the events a dashboard summary covers. From is inclusive, To exclusive.
type Query struct {
	Domain   string
	Period   string
	From     time.Time
	To       time.Time
	Interval string
	Limit    int
}

// ParseQuery builds a Query from dashboard URL parameters
func ParseQuery(values url.Values, now time.Time) (Query, error) {
	now = now.UTC()
	q := Query{
		Domain: tracking.NormalizeDomain(values.Get("domain")),
		Period: values.Get("period"),
		Limit:  parseLimit(values.Get("limit")),
	}
	if q.Period == "" {
		q.Period = defaultPeriod
	}

	if q.Period == "custom" {
		from, err := time.Parse("2006-01-02", values.Get("from"))
		if err != nil {
			return Query{}, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalidRange)
		}
		to, err := time.Parse("2006-01-02", values.Get("to"))
		if err != nil {
			return Query{}, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrInvalidRange)
		}
		if from.After(to) {
			return Query{}, fmt.Errorf("%w: from is after to", ErrInvalidRange)
		}
		// to is inclusive, so the range ends at the next midnight
		q.From = from
		q.To = to.AddDate(0, 0, 1)
		if q.To.Sub(q.From) > maxRangeDays*24*time.Hour {
			return Query{}, fmt.Errorf("%w: at most %d days", ErrInvalidRange, maxRangeDays)
		}
	} else {
		span, ok := periods[q.Period]
		if !ok {
			return Query{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, q.Period)
		}
		q.To = now.Truncate(time.Hour).Add(time.Hour)
		q.From = q.To.Add(-span)
	}

	q.Interval = IntervalDay
	if q.To.Sub(q.From) <= 48*time.Hour {
		q.Interval = IntervalHour
	}
	if q.Interval == IntervalDay && q.Period != "custom" {
		// Align rolling ranges to whole days so every bucket is complete
		q.To = truncateDay(now).AddDate(0, 0, 1)
		q.From = q.To.Add(-periods[q.Period])
	}

	return q, nil
}

// BucketSeconds returns the bucket width for the interval
func (q Query) BucketSeconds() int64 {
	if q.Interval == IntervalHour {
		return 3600
	}
	return 86400
}

// Buckets lists every bucket start in [From, To)
func (q Query) Buckets() []time.Time {
	step := time.Duration(q.BucketSeconds()) * time.Second
	var out []time.Time
	for t := q.From; t.Before(q.To); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultLimit
	}
	if n < 1 {
		return 1
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
