package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow checks if a request can be allowed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	elapsed := now.Sub(tb.lastRefill)

	// Add tokens based on elapsed time
	tokensToAdd := int(elapsed.Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

func (tb *TokenBucket) idleSince(cutoff time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed.Before(cutoff)
}

// Limiter throttles inbound connections globally and per source IP.
// A rate of 0 disables the corresponding limit.
type Limiter struct {
	mu     sync.Mutex
	global *TokenBucket
	perIP  map[string]*TokenBucket
	rate   int
	burst  int
}

// NewLimiter creates a limiter allowing globalRate connections per second
// overall and perIPRate per source IP, each with the given burst capacity.
func NewLimiter(globalRate, perIPRate, burst int) *Limiter {
	l := &Limiter{
		perIP: make(map[string]*TokenBucket),
		rate:  perIPRate,
		burst: burst,
	}
	if globalRate > 0 {
		l.global = NewTokenBucket(globalRate, burst)
	}
	return l
}

// AllowConnection checks if a new connection from the given source IP is allowed
func (l *Limiter) AllowConnection(ip string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	bucket, exists := l.perIP[ip]
	if !exists {
		bucket = NewTokenBucket(l.rate, l.burst)
		l.perIP[ip] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

// Sweep removes per-IP buckets that have not been used within maxIdle,
// bounding memory when many distinct sources come and go.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, bucket := range l.perIP {
		if bucket.idleSince(cutoff) {
			delete(l.perIP, ip)
			removed++
		}
	}
	return removed
}
