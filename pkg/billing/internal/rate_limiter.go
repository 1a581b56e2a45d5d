package internal

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter provides in-memory per-source rate limiting for the webhook
// endpoint. The provider retries with backoff on 429, so shedding load here
// is safe; a delivery is never lost, only deferred.
type RateLimiter struct {
	mu           sync.Mutex
	sources      map[string]*window
	limit        int
	interval     time.Duration
	sinceCleanup int
}

type window struct {
	count   int
	resetAt time.Time
}

// cleanup runs every this many requests; keeps the map bounded without a
// background goroutine.
const cleanupStride = 100

// NewRateLimiter creates a rate limiter allowing limit requests per source
// per interval.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		sources:  make(map[string]*window),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) allow(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	rl.sinceCleanup++
	if rl.sinceCleanup >= cleanupStride {
		rl.sinceCleanup = 0
		for src, w := range rl.sources {
			if now.After(w.resetAt) {
				delete(rl.sources, src)
			}
		}
	}

	w, ok := rl.sources[source]
	if !ok || now.After(w.resetAt) {
		rl.sources[source] = &window{count: 1, resetAt: now.Add(rl.interval)}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Middleware wraps an HTTP handler with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(ClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP address from the request, preferring the
// first hop of X-Forwarded-For when a proxy set it.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}
