package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
	"github.com/JakeFAU/opportunity-crawler/internal/policy/backoff"
	"github.com/JakeFAU/opportunity-crawler/internal/policy/ratelimit"
)

// Politeness gates every outbound request: host penalty first, then the
// host's minimum interval, then the optional global ceiling. State is owned by
// one instance; nothing is shared across instances.
type Politeness struct {
	hosts   *ratelimit.HostLimiter
	backoff *backoff.Backoff
	global  *ratelimit.Limiter
}

// NewPoliteness builds a controller from cfg.
func NewPoliteness(cfg Config) *Politeness {
	cfg = cfg.withDefaults()
	return &Politeness{
		hosts: ratelimit.NewHostLimiter(func(_ string, waited time.Duration) {
			metrics.ObservePolitenessWait("rate_limit", waited)
		}),
		backoff: backoff.New(backoff.Config{Base: cfg.BackoffBase, Max: cfg.BackoffMax}),
		global:  ratelimit.New(ratelimit.Config{RPS: cfg.GlobalRPS, Burst: 1}),
	}
}

// Wait blocks until host may be contacted.
func (p *Politeness) Wait(ctx context.Context, host string, minDelay time.Duration) error {
	host = strings.ToLower(host)
	waited, err := p.backoff.Wait(ctx, host)
	if err != nil {
		return err
	}
	if waited > 0 {
		metrics.ObservePolitenessWait("backoff", waited)
	}
	if _, err := p.hosts.Wait(ctx, host, minDelay); err != nil {
		return err
	}
	return p.global.Wait(ctx)
}

// Penalize extends host's penalty window and returns its new length.
func (p *Politeness) Penalize(host string, factor float64) time.Duration {
	return p.backoff.Penalize(strings.ToLower(host), factor)
}

// Penalty reports how long host remains penalized.
func (p *Politeness) Penalty(host string) time.Duration {
	return p.backoff.Remaining(strings.ToLower(host))
}
