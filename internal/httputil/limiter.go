// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key (provider name), so a slow
// provider's quota never throttles its siblings.
type Limiter struct {
	mu       sync.Mutex
	perSec   float64
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLimiter returns a Limiter allowing perSec requests per key. A
// non-positive perSec disables limiting.
func NewLimiter(perSec float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{perSec: perSec, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until key may issue a request or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.perSec <= 0 {
		return ctx.Err()
	}
	return l.get(key).Wait(ctx)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.perSec), l.burst)
		l.limiters[key] = lim
	}
	return lim
}
