// Package backoff tracks per-host penalty windows imposed after a host
// blocks or throttles the crawler.
package backoff

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Defaults applied when Config fields are zero.
const (
	DefaultBase = 1500 * time.Millisecond
	DefaultMax  = 60 * time.Second
)

// Config bounds every penalty to [Base, Max].
type Config struct {
	Base time.Duration
	Max  time.Duration
}

// Backoff holds a penalty expiry per host.
type Backoff struct {
	mu      sync.Mutex
	expires map[string]time.Time
	base    time.Duration
	max     time.Duration
	now     func() time.Time
}

// New returns an empty Backoff.
func New(cfg Config) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBase
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	return &Backoff{
		expires: make(map[string]time.Time),
		base:    cfg.Base,
		max:     cfg.Max,
		now:     time.Now,
	}
}

// Remaining reports how much of host's penalty is left.
func (b *Backoff) Remaining(host string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked(host, b.now())
}

// Wait sleeps until host's current penalty expires. It returns the time spent.
func (b *Backoff) Wait(ctx context.Context, host string) (time.Duration, error) {
	d := b.Remaining(host)
	if d <= 0 {
		return 0, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("backoff %s: %w", host, ctx.Err())
	case <-timer.C:
		return d, nil
	}
}

// Penalize extends host's penalty to
// clamp(base, max, floor(remaining*factor + base)) and returns the new length.
func (b *Backoff) Penalize(host string, factor float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	remaining := b.remainingLocked(host, now)
	ms := math.Floor(float64(remaining.Milliseconds())*factor + float64(b.base.Milliseconds()))
	next := time.Duration(ms) * time.Millisecond
	next = max(b.base, min(b.max, next))
	b.expires[host] = now.Add(next)
	return next
}

// Reset clears host's penalty.
func (b *Backoff) Reset(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.expires, host)
}

func (b *Backoff) remainingLocked(host string, now time.Time) time.Duration {
	exp, ok := b.expires[host]
	if !ok {
		return 0
	}
	if d := exp.Sub(now); d > 0 {
		return d
	}
	delete(b.expires, host)
	return 0
}
