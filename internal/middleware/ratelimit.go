package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/echoguard/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterSweepPeriod = 5 * time.Minute
)

// clientLimiter holds a rate limiter and its last accessed time.
type clientLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	clients sync.Map
	rps     float64
	burst   int
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a per-client limiter and starts its idle sweeper. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{rps: rps, burst: burst, stop: make(chan struct{})}
	if rps > 0 {
		go rl.sweep()
	}
	return rl
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rps <= 0 || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		v, _ := rl.clients.LoadOrStore(c.ClientIP(), &clientLimiter{
			limiter:  rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
			lastSeen: time.Now(),
		})
		cl := v.(*clientLimiter)
		cl.mu.Lock()
		cl.lastSeen = time.Now()
		cl.mu.Unlock()

		if !cl.limiter.Allow() {
			response.TooManyRequests(c, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// Stop ends the idle sweeper.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.clients.Range(func(key, value interface{}) bool {
				cl := value.(*clientLimiter)
				cl.mu.Lock()
				idle := now.Sub(cl.lastSeen) > limiterIdleTTL
				cl.mu.Unlock()
				if idle {
					rl.clients.Delete(key)
				}
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

// BodyLimit caps request bodies on write methods.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
