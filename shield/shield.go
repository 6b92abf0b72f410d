// Package shield bundles the HTTP hardening middleware the review API
// mounts in front of its routes: security headers, request body caps, and
// per-client rate limiting for the expensive analysis endpoints.
package shield

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SecurityHeaders sets the standard response headers for a JSON API that is
// never rendered in a browser frame.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// MaxJSONBody caps the request body on mutating JSON calls. Reads past the
// limit fail inside the handler's decoder with a *http.MaxBytesError.
func MaxJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Limit is one rate-limit rule: MaxRequests per Window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultLimits throttles the completion-heavy endpoints hard and leaves
// headroom for the cheap reads.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"/analyze": {MaxRequests: 10, Window: time.Minute},
		"/ask":     {MaxRequests: 30, Window: time.Minute},
		"":         {MaxRequests: 300, Window: time.Minute},
	}
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter throttles requests per client IP and route suffix. Buckets
// live in memory; a restart clears them.
type RateLimiter struct {
	limits  map[string]Limit
	buckets sync.Map
}

// NewRateLimiter builds a limiter from a route-suffix rule set. The empty
// suffix is the fallback rule; routes without a matching rule and no
// fallback pass unthrottled.
func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	return &RateLimiter{limits: limits}
}

// Middleware enforces the configured limits and answers 429 with a JSON
// body when a bucket is exhausted.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		suffix, limit, ok := rl.match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.allow(clientIP(r)+"|"+suffix, limit) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) match(path string) (string, Limit, bool) {
	for suffix, limit := range rl.limits {
		if suffix != "" && strings.HasSuffix(path, suffix) {
			return suffix, limit, true
		}
	}
	limit, ok := rl.limits[""]
	return "", limit, ok
}

func (rl *RateLimiter) allow(key string, limit Limit) bool {
	v, _ := rl.buckets.LoadOrStore(key, &bucket{})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(limit.Window)
	}
	if b.count >= limit.MaxRequests {
		return false
	}
	b.count++
	return true
}

// GC drops expired buckets. Call it periodically on long-running servers.
func (rl *RateLimiter) GC() {
	now := time.Now()
	rl.buckets.Range(func(key, v any) bool {
		if b := v.(*bucket); now.After(b.resetAt) {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
