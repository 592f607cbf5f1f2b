package diag

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a per-IP token bucket guarding the diagnostics surface
// from being hammered by a misbehaving local tool.
type RateLimiter struct {
	requestsPerSecond int
	burst             int
	clients           map[string]*rateLimitClient
	mu                sync.RWMutex
	stopChan          chan struct{}
	stopped           bool
}

type rateLimitClient struct {
	tokens    float64
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond steady
// state with a burst allowance, and starts its stale-client cleanup loop.
func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	rl := &RateLimiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		clients:           make(map[string]*rateLimitClient),
		stopChan:          make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, c := range rl.clients {
		if time.Since(c.lastCheck) > 5*time.Minute {
			delete(rl.clients, ip)
		}
	}
}

// Stop halts the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.stopped {
		close(rl.stopChan)
		rl.stopped = true
	}
}

// Middleware returns a gin handler enforcing the token bucket per client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		rl.mu.Lock()
		cl, exists := rl.clients[ip]
		if !exists {
			cl = &rateLimitClient{tokens: float64(rl.burst), lastCheck: time.Now()}
			rl.clients[ip] = cl
		}

		now := time.Now()
		elapsed := now.Sub(cl.lastCheck).Seconds()
		cl.tokens += elapsed * float64(rl.requestsPerSecond)
		if cl.tokens > float64(rl.burst) {
			cl.tokens = float64(rl.burst)
		}
		cl.lastCheck = now

		if cl.tokens < 1 {
			rl.mu.Unlock()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "too many requests",
			})
			c.Abort()
			return
		}

		cl.tokens--
		rl.mu.Unlock()
		c.Next()
	}
}

// ClientCount reports how many client IPs are currently tracked.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}
