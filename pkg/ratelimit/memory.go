package ratelimit

import (
	"sync"
	"time"
)

// Limiter answers whether an action keyed by string (typically a user id)
// is currently allowed.
type Limiter interface {
	Allow(key string) bool
	Reset(key string)
}

// MemoryLimiter is an in-memory token bucket limiter. Buckets are created
// lazily per key and reaped after a period of inactivity.
type MemoryLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	rate     time.Duration // refill interval for one token
	capacity int
	stop     chan struct{}
}

type bucket struct {
	mu       sync.Mutex
	tokens   int
	lastFill time.Time
}

// NewMemoryLimiter creates a limiter that refills one token per rate
// interval up to capacity.
func NewMemoryLimiter(rate time.Duration, capacity int) *MemoryLimiter {
	rl := &MemoryLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *MemoryLimiter) Allow(key string) bool {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		b, exists = rl.buckets[key]
		if !exists {
			b = &bucket{tokens: rl.capacity, lastFill: time.Now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refill := int(now.Sub(b.lastFill) / rl.rate)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > rl.capacity {
			b.tokens = rl.capacity
		}
		b.lastFill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *MemoryLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, exists := rl.buckets[key]; exists {
		b.mu.Lock()
		b.tokens = rl.capacity
		b.lastFill = time.Now()
		b.mu.Unlock()
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *MemoryLimiter) Stop() {
	close(rl.stop)
}

func (rl *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.reapStale()
		}
	}
}

func (rl *MemoryLimiter) reapStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-10 * time.Minute)
	for key, b := range rl.buckets {
		b.mu.Lock()
		stale := b.lastFill.Before(threshold)
		b.mu.Unlock()
		if stale {
			delete(rl.buckets, key)
		}
	}
}
