package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedBody mirrors the API response wrapper for 429s.
const rateLimitedBody = `{"success":false,"error":"Too many requests"}`

// visitor is one IP's token bucket plus its last activity time.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-IP token bucket sized to an allowance of
// requests per window. A bucket refills continuously at requests/window
// and bursts up to the full allowance, which approximates the sliding
// window closely enough for abuse control.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu          sync.Mutex
	visitors    map[string]*visitor
	window      time.Duration
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter allowing requests per window per IP.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:       rate.Limit(float64(requests) / window.Seconds()),
		burst:       requests,
		visitors:    make(map[string]*visitor),
		window:      window,
		lastCleanup: time.Now(),
	}
}

// allow checks the caller's bucket, creating it on first sight, and
// piggybacks stale-bucket cleanup on the same lock.
func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rl.window {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > 3*rl.window {
				delete(rl.visitors, k)
			}
		}
		rl.lastCleanup = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.Allow()
}

// Middleware enforces the limit, keyed by client IP. Run after chi's
// RealIP so proxied deployments key on the right address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(rateLimitedBody + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr; RealIP middleware has
// already rewritten it for trusted proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
