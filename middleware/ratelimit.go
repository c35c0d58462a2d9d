package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter tracks request timestamps per key inside a sliding window.
type RateLimiter struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	cleanup time.Time
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one event for key and reports whether it stays within limit
// over the trailing window.
func (r *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	now := r.now()
	cutoff := now.Add(-window)

	r.mu.Lock()
	defer r.mu.Unlock()

	times := r.events[key]
	filtered := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) >= limit {
		r.events[key] = filtered
		return false
	}
	filtered = append(filtered, now)
	r.events[key] = filtered

	// Drop idle keys occasionally so the map does not grow without bound.
	if now.Sub(r.cleanup) > 5*time.Minute {
		r.cleanup = now
		for k, v := range r.events {
			if len(v) == 0 || v[len(v)-1].Before(cutoff) {
				delete(r.events, k)
			}
		}
	}

	return true
}

// RateLimit rejects requests from a client IP that exceeds limit per window.
// The beacon sender never retries, but a well-behaved caller gets an explicit
// Retry-After hint.
func RateLimit(limiter *RateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP(), limit, window) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
