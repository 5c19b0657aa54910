package tracking

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cyppan/simple-site-analytics/internal/models"
)

var (
	// ErrMissingDomain means no domain could be derived from the hit
	ErrMissingDomain = errors.New("missing domain")

	// ErrInvalidEvent means the event name is malformed
	ErrInvalidEvent = errors.New("invalid event name")

	// ErrDomainNotAllowed means the domain is outside tracking.allowed_domains
	ErrDomainNotAllowed = errors.New("domain not allowed")

	// ErrDropped is wrapped by every reason a valid hit is discarded without error
	ErrDropped = errors.New("hit dropped")

	// ErrBot drops hits from crawlers and scripted clients when tracking.ignore_bots is set
	ErrBot = dropError("bot")

	// ErrDoNotTrack drops hits sent with DNT: 1 when tracking.respect_dnt is set
	ErrDoNotTrack = dropError("dnt")
)

const (
	maxTags        = 10
	maxTagLength   = 32
	maxPathLength  = 1024
	maxQueryParams = 20
)

var eventName = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

type droppedError struct{ reason string }

func dropError(reason string) error { return &droppedError{reason: reason} }

func (e *droppedError) Error() string { return "hit dropped: " + e.reason }

func (e *droppedError) Unwrap() error { return ErrDropped }

// DropReason returns the metric label for a dropped hit, or "" if err is not a drop
func DropReason(err error) string {
	var de *droppedError
	if errors.As(err, &de) {
		return de.reason
	}
	return ""
}

// Normalize turns a raw hit into an event without visitor or user-agent fields.
// origin and pageURL are the Origin and Referer request headers.
func Normalize(req models.TrackRequest, source, origin, pageURL string) (*models.Event, error) {
	domain := ""
	for _, candidate := range []string{req.Domain, req.Hostname, origin, pageURL} {
		if domain = NormalizeDomain(candidate); domain != "" {
			break
		}
	}
	if domain == "" {
		return nil, ErrMissingDomain
	}

	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = models.EventPageview
	}
	if !eventName.MatchString(eventType) {
		return nil, ErrInvalidEvent
	}

	rawPath := req.Path
	if rawPath == "" && pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil {
			rawPath = u.RequestURI()
		}
	}
	path, query := NormalizePath(rawPath)

	if len(req.QueryParams) == 0 && len(query) > 0 {
		req.QueryParams = query
	}
	req.QueryParams = trimParams(req.QueryParams)

	referrer := ReferrerSource(req.Referrer, domain)
	if src := strings.ToLower(strings.TrimSpace(req.QueryParams["utm_source"])); src != "" {
		referrer = src
	}

	ev := &models.Event{
		Domain:      domain,
		SourceType:  source,
		EventType:   eventType,
		Path:        path,
		Referrer:    referrer,
		Tags:        cleanTags(req.Tags),
		QueryParams: req.ToQueryParamsJSON(),
		ScreenWidth: clampWidth(req.ScreenWidth),
	}
	return ev, nil
}

// NormalizeDomain reduces a host, origin or URL to a lower-case host without port or leading www.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i != -1 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i != -1 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i != -1 {
		s = s[i+1:]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")
	if s == "" || strings.ContainsAny(s, " \t\"'<>\\") {
		return ""
	}
	return s
}

// NormalizePath returns the clean path of p and its first-value query parameters
func NormalizePath(p string) (string, map[string]string) {
	p = strings.TrimSpace(p)
	if strings.Contains(p, "://") {
		if u, err := url.Parse(p); err == nil {
			p = u.RequestURI()
		}
	}
	if i := strings.Index(p, "#"); i != -1 {
		p = p[:i]
	}

	var query map[string]string
	if i := strings.Index(p, "?"); i != -1 {
		if values, err := url.ParseQuery(p[i+1:]); err == nil && len(values) > 0 {
			query = make(map[string]string, len(values))
			for k, v := range values {
				if len(v) > 0 {
					query[k] = v[0]
				}
			}
		}
		p = p[:i]
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	if len(p) > maxPathLength {
		p = truncate(p, maxPathLength)
	}
	return p, query
}

// ReferrerSource returns the referring host, or "" for direct and self-referred visits
func ReferrerSource(ref, domain string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if !strings.Contains(ref, "://") {
		ref = "http://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	host := NormalizeDomain(u.Host)
	if host == "" || host == domain {
		return ""
	}
	return host
}

// DomainAllowed reports whether domain is in allowed or a subdomain of an entry.
// An empty list allows everything.
func DomainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = NormalizeDomain(a)
		if a == "" {
			continue
		}
		if domain == a || strings.HasSuffix(domain, "."+a) {
			return true
		}
	}
	return false
}

func cleanTags(tags []string) []string {
	out := []string{}
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ReplaceAll(tag, ",", " "))
		if tag == "" {
			continue
		}
		out = append(out, truncate(tag, maxTagLength))
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func trimParams(params map[string]string) map[string]string {
	if len(params) <= maxQueryParams {
		return params
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, maxQueryParams)
	for _, k := range keys[:maxQueryParams] {
		out[k] = params[k]
	}
	return out
}

func clampWidth(w int) int {
	if w < 0 || w > 100000 {
		return 0
	}
	return w
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
