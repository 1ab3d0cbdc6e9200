// Package ratelimit hands out one token bucket per caller identity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New allows rps requests per second per identity with the given burst. A
// non-positive rps disables limiting.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow takes a token from identity's bucket.
func (l *Limiter) Allow(identity string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[identity] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Prune drops buckets not used for idle and returns how many were dropped.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	dropped := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			dropped++
		}
	}
	return dropped
}

// Run prunes idle buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, every, idle time.Duration) {
	if !l.Enabled() {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(idle)
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
