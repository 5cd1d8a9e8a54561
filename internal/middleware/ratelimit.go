package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client key (e.g. IP).
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewIPRateLimiter allows requestsPerMinute sustained with the given burst.
func NewIPRateLimiter(requestsPerMinute float64, burst int) *IPRateLimiter {
	perSecond := requestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     5 * time.Minute,
		now:      time.Now,
	}
}

func (r *IPRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	now := r.now()
	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	r.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Sweep drops visitors idle longer than the idle timeout.
func (r *IPRateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idle)
	for k, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(r.visitors, k)
		}
	}
}

// RunSweeper calls Sweep every interval until stop is closed.
func (r *IPRateLimiter) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			r.Sweep()
		}
	}
}

// RateLimit returns a middleware that limits by client IP.
func RateLimit(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
