package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterSweepInterval bounds how often idle client buckets are
	// garbage-collected.
	limiterSweepInterval = 10 * time.Minute
	// limiterMaxIdle is how long a client bucket may sit unused before
	// the sweep removes it.
	limiterMaxIdle = 30 * time.Minute
)

// ipRateLimiter keeps one token bucket per client address. Buckets for
// idle clients are swept inline, so the limiter needs no background
// goroutine and no shutdown hook.
type ipRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSeen  map[string]time.Time
	lastSweep time.Time
	rps       rate.Limit
	burst     int
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		lastSeen:  make(map[string]time.Time),
		lastSweep: time.Now(),
		rps:       rate.Limit(rps),
		burst:     burst,
	}
}

func (l *ipRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastSweep) > limiterSweepInterval {
		now := time.Now()
		for k, seen := range l.lastSeen {
			if now.Sub(seen) > limiterMaxIdle {
				delete(l.lastSeen, k)
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	l.lastSeen[ip] = time.Now()
	return lim
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !l.limiterFor(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
