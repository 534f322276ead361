// Package ratelimit paces outbound requests per key: per domain for health
// probes, and account-wide for paid archive submissions.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/metrics"
	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between requests sharing a key. A
// request arriving early sleeps for the remainder of the interval.
type Pacer struct {
	mu        sync.Mutex
	interval  time.Duration
	limiters  map[string]*keyLimiter
	lastSweep time.Time
	clock     link.Clock
	sleeper   link.Sleeper
}

type keyLimiter struct {
	limiter *rate.Limiter
	// slot is when the latest reservation for the key may proceed.
	slot    time.Time
}

// NewPacer creates a Pacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration, clock link.Clock, sleeper link.Sleeper) *Pacer {
	return &Pacer{
		interval: interval,
		limiters: make(map[string]*keyLimiter),
		clock:    clock,
		sleeper:  sleeper,
	}
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until a request for key may proceed.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	if p == nil || p.interval <= 0 {
		return nil
	}
	p.mu.Lock()
	now := p.clock.Now()
	p.sweep(now)
	kl, ok := p.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(rate.Every(p.interval), 1)}
		p.limiters[key] = kl
	}
	reservation := kl.limiter.ReserveN(now, 1)
	if reservation.OK() {
		kl.slot = now.Add(reservation.DelayFrom(now))
	}
	p.mu.Unlock()

	if !reservation.OK() {
		return fmt.Errorf("pacer %q: reservation refused", key)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	metrics.ObserveRateLimitDelay(key, delay)
	if err := p.sleeper.Sleep(ctx, delay); err != nil {
		reservation.CancelAt(p.clock.Now())
		return fmt.Errorf("pacer %q wait: %w", key, err)
	}
	return nil
}

// sweep drops keys idle for longer than the interval. Their limiters have
// refilled, so a fresh one behaves the same. Runs at most once per interval.
func (p *Pacer) sweep(now time.Time) {
	if now.Sub(p.lastSweep) < p.interval {
		return
	}
	p.lastSweep = now
	for key, kl := range p.limiters {
		if now.Sub(kl.slot) > p.interval {
			delete(p.limiters, key)
		}
	}
}

func (p *Pacer) keys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
