package ratelimit

import (
	"sync"
	"time"
)

// bucket is a continuously-refilled token bucket. Tokens are fractional
// so slow refill rates still make progress between calls.
type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter holds one token bucket per key. Capacity and refill rate are
// passed on every call so each venue's order-rate limits come straight
// from config without a registration step.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket)}
}

// Allow consumes one token for key if available. New keys start full.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, last: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * refillPerSec
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
