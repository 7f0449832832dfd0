package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
)

// Reap expires every ACTIVE or NEEDS_REVIEW opportunity whose deadline is
// strictly before today (UTC). LOW confidence deadlines are left alone.
func (c *Crawler) Reap(ctx context.Context) (ReapSummary, error) {
	start := c.clock.Now()
	summary := ReapSummary{RunID: c.newRunID()}
	today := opportunity.Day(start)

	n, err := c.store.ExpirePastDeadlines(ctx, today)
	if err != nil {
		metrics.ObserveRun("reap", "error", c.clock.Now().Sub(start))
		return summary, fmt.Errorf("expire past deadlines: %w", err)
	}
	summary.Expired = n
	metrics.ObserveRun("reap", "ok", c.clock.Now().Sub(start))
	c.logger.Info("reaper run finished",
		zap.String("run_id", summary.RunID),
		zap.Time("today", today),
		zap.Int64("expired", n),
	)
	return summary, nil
}
