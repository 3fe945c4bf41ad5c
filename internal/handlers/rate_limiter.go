package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cleanease/api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

type rateBucket struct {
	hits    int
	expires time.Time
}

// simpleRateLimiter is a fixed-window counter per key. Buckets for expired
// windows are dropped opportunistically whenever a new window opens.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]rateBucket
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]rateBucket),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, live := l.buckets[key]
	if live && !now.After(bucket.expires) {
		if bucket.hits >= l.limit {
			return false
		}
		bucket.hits++
		l.buckets[key] = bucket
		return true
	}

	// New window for this key; sweep other stale buckets while we hold the lock.
	for other, b := range l.buckets {
		if now.After(b.expires) {
			delete(l.buckets, other)
		}
	}
	l.buckets[key] = rateBucket{hits: 1, expires: now.Add(l.window)}
	return true
}

// WebhookRateLimit throttles webhook deliveries per source address. A nil
// limiter (limit or window <= 0) disables throttling.
func WebhookRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newSimpleRateLimiter(limit, window, time.Now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				if !limiter.Allow(host) {
					httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
