package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Source types record how a hit reached the server
const (
	SourceScript = "script"
	SourcePixel  = "pixel"
)

// EventPageview is the default event name
const EventPageview = "pageview"

// Event represents a recorded hit
type Event struct {
	ID          int64     `json:"id"`
	Domain      string    `json:"domain"`
	SourceType  string    `json:"source_type"`
	EventType   string    `json:"event_type"`
	Path        string    `json:"path"`
	Referrer    string    `json:"referrer"`
	Tags        []string  `json:"tags"`
	QueryParams string    `json:"query_params,omitempty"` // JSON string
	VisitorID   string    `json:"visitor_id"`
	Browser     string    `json:"browser"`
	OS          string    `json:"os"`
	Device      string    `json:"device"`
	ScreenWidth int       `json:"screen_width,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TagsToString converts tags slice to comma-separated string for storage
func (e *Event) TagsToString() string {
	return strings.Join(e.Tags, ",")
}

// TagsFromString parses comma-separated string to tags slice
func (e *Event) TagsFromString(tagsStr string) {
	if tagsStr == "" {
		e.Tags = []string{}
		return
	}
	e.Tags = strings.Split(tagsStr, ",")
}

// TrackRequest is the beacon payload sent by script.js, or the pixel query string
type TrackRequest struct {
	Hostname    string            `json:"h"`   // hostname of the page
	Domain      string            `json:"d"`   // explicit domain override
	Path        string            `json:"p"`   // page path, may carry a query string
	EventType   string            `json:"e"`   // event name, pageview when empty
	Tags        []string          `json:"t"`   // free-form tags
	QueryParams map[string]string `json:"q"`   // page query parameters
	Referrer    string            `json:"ref"` // document.referrer
	ScreenWidth int               `json:"w"`   // window.innerWidth
}

// ToQueryParamsJSON converts query params map to JSON string
func (tr *TrackRequest) ToQueryParamsJSON() string {
	if len(tr.QueryParams) == 0 {
		return ""
	}
	bytes, err := json.Marshal(tr.QueryParams)
	if err != nil {
		return ""
	}
	return string(bytes)
}

// Stats is the dashboard summary for one query
type Stats struct {
	Domain          string          `json:"domain,omitempty"`
	Period          string          `json:"period"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Interval        string          `json:"interval"`
	Pageviews       int64           `json:"pageviews"`
	Visitors        int64           `json:"visitors"`
	CustomEvents    int64           `json:"custom_events"`
	BounceRate      float64         `json:"bounce_rate"`
	CurrentVisitors int64           `json:"current_visitors"`
	TopPages        []PageStat      `json:"top_pages"`
	TopReferrers    []ReferrerStat  `json:"top_referrers"`
	TopEvents       []BreakdownStat `json:"top_events"`
	Browsers        []BreakdownStat `json:"browsers"`
	OS              []BreakdownStat `json:"os"`
	Devices         []BreakdownStat `json:"devices"`
	Timeline        []TimelineStat  `json:"timeline"`
}

// PageStat represents traffic for a path
type PageStat struct {
	Path      string `json:"path"`
	Pageviews int64  `json:"pageviews"`
	Visitors  int64  `json:"visitors"`
}

// ReferrerStat represents visitors arriving from a source
type ReferrerStat struct {
	Referrer string `json:"referrer"`
	Visitors int64  `json:"visitors"`
}

// BreakdownStat is a generic name/count pair
type BreakdownStat struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// DomainStat represents statistics for a domain
type DomainStat struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// TimelineStat represents traffic in a time bucket
type TimelineStat struct {
	Timestamp time.Time `json:"timestamp"`
	Pageviews int64     `json:"pageviews"`
	Visitors  int64     `json:"visitors"`
}
