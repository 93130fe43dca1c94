// Package ratelimit bounds the request rate strategy evaluators place on
// downstream market-data and AI backends, keyed per backend.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per backend name.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) get(backend string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[backend]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[backend] = lim
	}
	return lim
}

// Wait blocks until a request to backend is allowed or ctx is cancelled.
// Cancellation here is one of the suspension points where an expiring scan
// budget takes effect.
func (l *Limiter) Wait(ctx context.Context, backend string) error {
	return l.get(backend).Wait(ctx)
}

// Allow reports whether a request to backend may proceed immediately.
func (l *Limiter) Allow(backend string) bool {
	return l.get(backend).Allow()
}
