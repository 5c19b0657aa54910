package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxLoginAttempts is how many failed logins an IP gets per window
	MaxLoginAttempts = 5

	// LoginWindow is the lockout window for failed logins
	LoginWindow = 15 * time.Minute
)

// RateLimiter tracks failed login attempts by IP address
type RateLimiter struct {
	attempts map[string]*loginAttempts
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type loginAttempts struct {
	count        int
	firstAttempt time.Time
}

// NewRateLimiter creates a login limiter and starts its cleanup loop
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		attempts: make(map[string]*loginAttempts),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// AllowLogin checks if a login attempt is allowed for an IP
func (rl *RateLimiter) AllowLogin(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	a, ok := rl.attempts[ip]
	if !ok {
		return true
	}
	if rl.now().Sub(a.firstAttempt) > LoginWindow {
		delete(rl.attempts, ip)
		return true
	}
	return a.count < MaxLoginAttempts
}

// RecordAttempt records a failed login attempt
func (rl *RateLimiter) RecordAttempt(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	a, ok := rl.attempts[ip]
	if !ok || now.Sub(a.firstAttempt) > LoginWindow {
		rl.attempts[ip] = &loginAttempts{count: 1, firstAttempt: now}
		return
	}
	a.count++
}

// Reset clears attempts for an IP, called on successful login
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	delete(rl.attempts, ip)
	rl.mu.Unlock()
}

// GetAttempts returns the number of failed attempts for an IP
func (rl *RateLimiter) GetAttempts(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if a, ok := rl.attempts[ip]; ok {
		return a.count
	}
	return 0
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for ip, a := range rl.attempts {
				if now.Sub(a.firstAttempt) > LoginWindow {
					delete(rl.attempts, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// IPLimiter is a token bucket per client IP, used on the public tracking endpoints
type IPLimiter struct {
	limit    rate.Limit
	burst    int
	visitors map[string]*ipEntry
	mu       sync.Mutex
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter allows perSecond sustained requests with the given burst per IP.
// perSecond <= 0 disables limiting.
func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &IPLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*ipEntry),
		idle:     10 * time.Minute,
		stop:     make(chan struct{}),
	}
	if perSecond <= 0 {
		l.limit = rate.Inf
	}
	go l.cleanup()
	return l
}

// Allow reports whether ip may make another request now
func (l *IPLimiter) Allow(ip string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	e, ok := l.visitors[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

// Len returns the number of IPs currently tracked
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Stop ends the cleanup loop
func (l *IPLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *IPLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *IPLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.visitors {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.visitors, ip)
		}
	}
}
