// Package ratelimit spaces outbound requests: a per-host minimum interval and
// an optional process-wide token bucket ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Observer receives how long a caller was held back for host.
type Observer func(host string, waited time.Duration)

// HostLimiter guarantees that two requests to the same host never start
// closer together than the delay passed to Wait, regardless of how many
// goroutines call it. Each caller reserves the next free slot under the lock
// and then sleeps until that slot outside of it.
type HostLimiter struct {
	mu       sync.Mutex
	next     map[string]time.Time
	now      func() time.Time
	observer Observer
}

// NewHostLimiter creates an empty HostLimiter.
func NewHostLimiter(observer Observer) *HostLimiter {
	return &HostLimiter{
		next:     make(map[string]time.Time),
		now:      time.Now,
		observer: observer,
	}
}

// Wait blocks until host may be contacted, then advances the host's next
// allowed time by delay. It returns how long the caller waited.
func (l *HostLimiter) Wait(ctx context.Context, host string, delay time.Duration) (time.Duration, error) {
	delay = max(0, delay)
	l.mu.Lock()
	now := l.now()
	slot := now
	if next, ok := l.next[host]; ok && next.After(slot) {
		slot = next
	}
	l.next[host] = slot.Add(delay)
	l.mu.Unlock()

	wait := slot.Sub(now)
	if err := sleep(ctx, wait); err != nil {
		return 0, fmt.Errorf("host rate limit %s: %w", host, err)
	}
	if wait > 0 && l.observer != nil {
		l.observer(host, wait)
	}
	return wait, nil
}

// NextAllowed returns when host may next be contacted, or the zero time if it
// has never been seen.
func (l *HostLimiter) NextAllowed(host string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next[host]
}

// Limiter is a process-wide token bucket that caps total outbound requests
// per second across all hosts.
type Limiter struct {
	limiter *rate.Limiter
}

// Config holds global limiter configuration.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a Limiter. A non-positive RPS disables the ceiling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
