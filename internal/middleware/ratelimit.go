package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/cyppan/simple-site-analytics/internal/auth"
)

// TrackRateLimit throttles the tracking endpoints per client IP
func TrackRateLimit(limiter *auth.IPLimiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !trackingPaths[r.URL.Path] || r.URL.Path == "/script.js" {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, trustProxy)
			if !limiter.Allow(ip) {
				log.Printf("[TRACK] Rate limit exceeded for %s", ip)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the caller's address. X-Forwarded-For is only honoured
// when the server sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
