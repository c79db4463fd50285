package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// gcInterval is how often stale rate-limit entries are collected.
const gcInterval = 5 * time.Minute

// RateLimiter is a sliding-window request limiter keyed by client IP.
type RateLimiter struct {
	window time.Duration
	max    int

	mu   sync.Mutex
	hits map[string][]time.Time

	now func() time.Time
}

// NewRateLimiter builds a limiter allowing max requests per window per IP.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a hit for ip and reports whether it is within the window.
// When denied, retryAfter is how long until the oldest hit leaves the
// window.
func (l *RateLimiter) Allow(ip string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.hits[ip][:0]
	for _, t := range l.hits[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.hits[ip] = kept
		return false, kept[0].Sub(cutoff)
	}
	l.hits[ip] = append(kept, now)
	return true, 0
}

// RunGC collects idle IPs every gcInterval until done is closed.
func (l *RateLimiter) RunGC(done <-chan struct{}) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.gc()
		}
	}
}

func (l *RateLimiter) gc() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for ip, times := range l.hits {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.hits, ip)
			continue
		}
		l.hits[ip] = kept
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		allowed, retryAfter := l.Allow(ip)
		if !allowed {
			seconds := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
