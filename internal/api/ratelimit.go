package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter housekeeping intervals.
const (
	// bucketTTL is how long an idle client's bucket survives before cleanup.
	bucketTTL = 5 * time.Minute

	// bucketSweepInterval is how often stale buckets are removed.
	bucketSweepInterval = time.Minute

	// secondsPerMinute converts the configured per-minute rate to rate.Limit.
	secondsPerMinute = 60
)

// rateLimiter applies a token bucket per client IP.
//
// Buckets are created on first sight and swept after bucketTTL of
// inactivity, so the map stays bounded by the active client population.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter allowing requestsPerMinute sustained
// requests per client IP, with a burst of the same size.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / secondsPerMinute),
		burst:   requestsPerMinute,
		buckets: make(map[string]*bucket),
	}
}

// allow reports whether the client identified by ip may proceed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()

	return b.lim.Allow()
}

// sweep removes buckets idle longer than bucketTTL.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-bucketTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// sweepLoop runs sweep periodically until the context signals shutdown.
func (rl *rateLimiter) sweepLoop(done <-chan struct{}) {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// rateLimitMiddleware rejects clients that exceed the configured rate
// with 429. Applied to the /auth/* routes only: those are the endpoints
// worth brute-forcing, and the ones whose handlers burn bcrypt time.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client address, preferring the first entry of
// X-Forwarded-For when a proxy sits in front.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
