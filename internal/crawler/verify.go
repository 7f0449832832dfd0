package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/extract"
	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
)

// VerifyOptions narrows a Verify run.
type VerifyOptions struct {
	ProgramType string
	Limit       int
}

// verifiableStatuses are re-checked by Verify; EXPIRED rows are final.
var verifiableStatuses = []opportunity.Status{
	opportunity.StatusActive,
	opportunity.StatusNeedsReview,
	opportunity.StatusBlocked,
}

// Verify re-fetches stored opportunities, oldest verification first, using
// their stored validators. Unchanged content only moves the timestamp,
// freshness, and status; changed content rewrites every extracted field.
func (c *Crawler) Verify(ctx context.Context, opts VerifyOptions) (VerifySummary, error) {
	start := c.clock.Now()
	summary := VerifySummary{RunID: c.newRunID()}
	limit := opts.Limit
	if limit <= 0 {
		limit = c.cfg.VerifyLimit
	}
	rows, err := c.store.ListForVerification(ctx, VerifyFilter{
		ProgramType: opts.ProgramType,
		Statuses:    verifiableStatuses,
		Limit:       limit,
	})
	if err != nil {
		metrics.ObserveRun("verify", "error", c.clock.Now().Sub(start))
		return summary, fmt.Errorf("list opportunities for verification: %w", err)
	}

	sources := make(map[string]Source)
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		src := c.sourceFor(ctx, row, sources)
		c.verifyOne(ctx, summary.RunID, src, row, &summary)
	}

	metrics.ObserveRun("verify", "ok", c.clock.Now().Sub(start))
	c.logger.Info("verify run finished",
		zap.String("run_id", summary.RunID),
		zap.String("program_type", opts.ProgramType),
		zap.Int64("checked", summary.Checked),
		zap.Int64("not_modified", summary.NotModified),
		zap.Int64("unchanged", summary.Unchanged),
		zap.Int64("changed", summary.Changed),
		zap.Int64("blocked", summary.Blocked),
		zap.Int64("errors", summary.Errors),
	)
	return summary, nil
}

// sourceFor returns the registry entry for row, or defaults when the source
// is gone. Lookups are memoized per run.
func (c *Crawler) sourceFor(ctx context.Context, row opportunity.Opportunity, cache map[string]Source) Source {
	if src, ok := cache[row.SourceID]; ok {
		return src
	}
	src, err := c.registry.Get(ctx, row.SourceID)
	if err != nil {
		c.logger.Debug("source lookup failed; using defaults",
			zap.String("source_id", row.SourceID),
			zap.Error(err),
		)
		src = Source{
			ID:            row.SourceID,
			ProgramType:   row.ProgramType,
			BaseURL:       row.SourceURL,
			RespectRobots: true,
			MinDelay:      c.cfg.DefaultMinDelay,
		}
	}
	cache[row.SourceID] = src
	return src
}

func (c *Crawler) verifyOne(ctx context.Context, runID string, src Source, row opportunity.Opportunity, summary *VerifySummary) {
	summary.Checked++
	key := row.Key()
	logger := c.logger.With(
		zap.String("run_id", runID),
		zap.String("url", row.CanonicalURL),
		zap.String("program_type", row.ProgramType),
	)

	res := c.fetcher.Fetch(ctx, c.fetchRequest(src, row.CanonicalURL, row.ETag, row.PageLastModified))
	now := c.clock.Now()
	entry := newLogEntry(runID, ActionVerify, row.ProgramType, row.SourceID, row.CanonicalURL, res, now)
	freshness := opportunity.FreshnessScore(row.LastVerifiedAt, now)

	switch res.Status {
	case FetchNotModified:
		entry.ContentHash = row.ContentHash
		c.appendLog(ctx, entry)
		err := c.store.UpdateVerification(ctx, key, VerificationUpdate{
			VerifiedAt:       now,
			FreshnessScore:   freshness,
			Status:           opportunity.StatusActive,
			ETag:             res.ETag,
			PageLastModified: res.LastModified,
		})
		if err != nil {
			summary.Errors++
			logger.Error("update verification failed", zap.Error(err))
			return
		}
		summary.NotModified++
		c.announce(ctx, runID, key, row.SourceID, row.Status, opportunity.StatusActive, "")

	case FetchBlocked:
		c.appendLog(ctx, entry)
		reason := res.BlockedReason
		if reason == "" {
			reason = opportunity.ReasonBlocked
		}
		if err := c.store.MarkBlocked(ctx, key, reason, now); err != nil {
			summary.Errors++
			logger.Error("mark blocked failed", zap.Error(err))
			return
		}
		summary.Blocked++
		c.announce(ctx, runID, key, row.SourceID, row.Status, opportunity.StatusBlocked, reason)

	case FetchOK:
		c.verifyContent(ctx, runID, row, res, entry, freshness, summary, logger)

	default:
		c.appendLog(ctx, entry)
		summary.Errors++
		logger.Info("verify fetch failed",
			zap.String("status", string(res.Status)),
			zap.Int("http_status", res.HTTPStatus),
			zap.String("error", res.ErrorMessage),
		)
	}
}

func (c *Crawler) verifyContent(ctx context.Context, runID string, row opportunity.Opportunity, res FetchResult, entry FetchLogEntry, freshness int, summary *VerifySummary, logger *zap.Logger) {
	if res.Body == "" {
		c.appendLog(ctx, entry)
		summary.Errors++
		logger.Info("verify fetch returned no body")
		return
	}
	page, err := extract.Parse(res.Body, res.FetchedURL)
	if err != nil {
		entry.ErrorMessage = err.Error()
		c.appendLog(ctx, entry)
		summary.Errors++
		logger.Warn("parse page failed", zap.Error(err))
		return
	}

	now := entry.CreatedAt
	opp := c.builder.FromPage(opportunity.BuildInput{
		ProgramType:  row.ProgramType,
		CanonicalURL: row.CanonicalURL,
		SourceURL:    row.SourceURL,
		ETag:         res.ETag,
		LastModified: res.LastModified,
	}, page)
	entry.ContentHash = opp.ContentHash
	c.appendLog(ctx, entry)

	decision := opportunity.GateOpportunity(opp, false, res.LoginWall, now)
	metrics.ObserveGateDecision(string(decision.Status))

	if opp.ContentHash == row.ContentHash {
		err = c.store.UpdateVerification(ctx, row.Key(), VerificationUpdate{
			VerifiedAt:       now,
			FreshnessScore:   freshness,
			Status:           decision.Status,
			StatusReason:     decision.Reason,
			ETag:             res.ETag,
			PageLastModified: res.LastModified,
		})
		if err == nil {
			summary.Unchanged++
		}
	} else {
		opp.SourceID = row.SourceID
		opp.LastVerifiedAt = now
		opp.FreshnessScore = freshness
		opp.Status = decision.Status
		opp.StatusReason = decision.Reason
		err = c.store.ReplaceOpportunity(ctx, opp)
		if err == nil {
			summary.Changed++
		}
	}
	if err != nil {
		summary.Errors++
		logger.Error("persist verification failed", zap.Error(err))
		return
	}
	if decision.Status == opportunity.StatusExpired {
		summary.Expired++
	}
	c.announce(ctx, runID, row.Key(), row.SourceID, row.Status, decision.Status, decision.Reason)
}
