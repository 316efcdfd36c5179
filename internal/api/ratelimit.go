package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleClientAge is how long an idle client keeps its bucket.
const staleClientAge = 10 * time.Minute

// cleanupEvery bounds how often the stale sweep runs, counted in lookups.
const cleanupEvery = 1024

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter hands out a token bucket per client IP. Stale buckets are
// swept inline during lookups, so no background goroutine is needed.
type ipRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	lookups int
}

func newIPRateLimiter(limit float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(limit),
		burst:   burst,
	}
}

// allow reports whether the client may proceed.
func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lookups++
	if l.lookups%cleanupEvery == 0 {
		cutoff := time.Now().Add(-staleClientAge)
		for ip, c := range l.clients {
			if c.lastSeen.Before(cutoff) {
				delete(l.clients, ip)
			}
		}
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// rateLimit rejects clients that exceed the per-IP budget.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(s.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}
