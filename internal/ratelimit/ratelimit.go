// Package ratelimit implements the token bucket governing Reddit API calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket: tokens accumulate one per refill interval
// up to a maximum, and each permitted operation consumes one. It is
// safe for concurrent use; no fairness is guaranteed between waiters.
type Limiter struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time

	maxTokens int
	refill    time.Duration
}

// New creates a Limiter holding at most maxTokens, refilled one token
// per refill interval. The bucket starts with a single token rather
// than maxTokens so a restart allows one immediate request without
// bursting against the upstream API.
func New(maxTokens int, refill time.Duration) *Limiter {
	return &Limiter{
		tokens:     1,
		lastRefill: time.Now(),
		maxTokens:  maxTokens,
		refill:     refill,
	}
}

// Acquire blocks until a token is available, then consumes it. While
// the bucket is empty it releases the lock and sleeps half a refill
// interval between checks. Cancelling ctx interrupts the wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if add := int(now.Sub(l.lastRefill) / l.refill); add > 0 {
			l.tokens = min(l.tokens+add, l.maxTokens)
			l.lastRefill = now
		}
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.refill / 2):
		}
	}
}
