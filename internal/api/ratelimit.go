package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter throttles trades per client. Each client holds a bucket of up to
// burst trade credits that refills continuously at burst per window. Idle
// buckets are pruned during Allow, so the limiter owns no goroutine.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*credit
	burst     float64
	window    float64 // seconds
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type credit struct {
	left float64
	seen time.Time
}

// NewRateLimiter allows burst trades per window for each client.
func NewRateLimiter(burst int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*credit),
		burst:   float64(burst),
		window:  window.Seconds(),
		idle:    2 * window,
		now:     time.Now,
	}
}

// Allow spends one credit for client, reporting false if none is left.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	c := rl.refillLocked(client, now)
	if c.left < 1 {
		return false
	}
	c.left--
	return true
}

// RetryAfter returns whole seconds until client earns its next credit.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[client]
	if !ok || rl.burst <= 0 {
		return 0
	}
	missing := 1 - (c.left + rl.earned(rl.now().Sub(c.seen)))
	if missing <= 0 {
		return 0
	}
	return int(math.Ceil(missing * rl.window / rl.burst))
}

// Clients reports how many clients are currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) refillLocked(client string, now time.Time) *credit {
	c, ok := rl.clients[client]
	if !ok {
		c = &credit{left: rl.burst, seen: now}
		rl.clients[client] = c
		return c
	}
	c.left = math.Min(rl.burst, c.left+rl.earned(now.Sub(c.seen)))
	c.seen = now
	return c
}

func (rl *RateLimiter) earned(elapsed time.Duration) float64 {
	return elapsed.Seconds() * rl.burst / rl.window
}

// pruneLocked drops clients idle long enough to have refilled completely.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < rl.idle {
		return
	}
	rl.lastPrune = now
	for client, c := range rl.clients {
		if now.Sub(c.seen) > rl.idle {
			delete(rl.clients, client)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimitMiddleware answers 429 with Retry-After once a client runs dry.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
