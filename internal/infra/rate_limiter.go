package infra

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Thread-safe and suitable for concurrent API calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter.
// maxRequests: maximum burst size
// perSecond: refill rate (requests per second)
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxRequests),
		maxTokens:  float64(maxRequests),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available.
// Returns immediately if a token is available.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	for r.tokens < 1 {
		// Calculate wait time for next token
		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()
		time.Sleep(waitTime)
		r.mu.Lock()
		r.refill()
	}

	r.tokens--
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time.
// Must be called with mutex held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	r.lastRefill = now
}

// KIS rate limiters. Paper-trading app keys are throttled hard on the KIS
// side (REST is capped at 2 requests/second), and subscribing too fast on
// the WebSocket silently drops registrations.
var (
	kisRestLimiter      *RateLimiter
	kisSubscribeLimiter *RateLimiter
	rateLimiterOnce     sync.Once
)

// GetKISRestLimiter returns the rate limiter for KIS REST endpoints.
// Limit: 2 requests/second with burst of 2 (모의투자 기준).
func GetKISRestLimiter() *RateLimiter {
	rateLimiterOnce.Do(initKISLimiters)
	return kisRestLimiter
}

// GetKISSubscribeLimiter returns the rate limiter for WS subscribe frames.
// Limit: 5 registrations/second with burst of 3.
func GetKISSubscribeLimiter() *RateLimiter {
	rateLimiterOnce.Do(initKISLimiters)
	return kisSubscribeLimiter
}

func initKISLimiters() {
	// Conservative limits to avoid EGW00201 throttling responses
	kisRestLimiter = NewRateLimiter(2, 2)      // 2 req/s, burst 2
	kisSubscribeLimiter = NewRateLimiter(3, 5) // 5 req/s, burst 3
}
