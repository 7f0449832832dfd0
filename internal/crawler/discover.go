package crawler

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/extract"
	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	"github.com/JakeFAU/opportunity-crawler/internal/policy/simple"
)

// DiscoverOptions narrows a Discover run.
type DiscoverOptions struct {
	ProgramType string
	SourceIDs   []string
}

// Discover visits every active source: its base URL first, then up to
// MaxRequestsPerRun same-host links that pass the source's path rules. Each
// successfully fetched page is built, gated, and upserted. Individual URL and
// source failures are counted, never returned.
func (c *Crawler) Discover(ctx context.Context, opts DiscoverOptions) (DiscoverSummary, error) {
	start := c.clock.Now()
	runID := c.newRunID()
	sources, err := c.registry.ListActive(ctx, opts.ProgramType)
	if err != nil {
		metrics.ObserveRun("discover", "error", c.clock.Now().Sub(start))
		return DiscoverSummary{RunID: runID}, registryError(err)
	}
	if len(opts.SourceIDs) > 0 {
		sources = slices.DeleteFunc(sources, func(s Source) bool {
			return !slices.Contains(opts.SourceIDs, s.ID)
		})
	}

	var (
		counters runCounters
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.cfg.DiscoverConcurrency)
	)
	for _, src := range sources {
		if !src.Active {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			defer func() { <-sem }()
			c.discoverSource(ctx, runID, src, &counters)
		}(src)
	}
	wg.Wait()

	summary := counters.discoverSummary(runID)
	metrics.ObserveRun("discover", "ok", c.clock.Now().Sub(start))
	c.logger.Info("discover run finished",
		zap.String("run_id", runID),
		zap.String("program_type", opts.ProgramType),
		zap.Int64("sources", summary.Sources),
		zap.Int64("visited", summary.Visited),
		zap.Int64("accepted", summary.Accepted),
		zap.Int64("blocked", summary.Blocked),
		zap.Int64("expired", summary.Expired),
		zap.Int64("errors", summary.Errors),
	)
	return summary, nil
}

func (c *Crawler) discoverSource(ctx context.Context, runID string, src Source, counters *runCounters) {
	counters.sources.Add(1)
	logger := c.logger.With(
		zap.String("run_id", runID),
		zap.String("source_id", src.ID),
		zap.String("program_type", src.ProgramType),
	)

	base, err := NormalizeURL(src.BaseURL)
	if err != nil {
		counters.errors.Add(1)
		logger.Warn("invalid source base url", zap.String("url", src.BaseURL), zap.Error(err))
		return
	}
	filter, err := simple.New(base, src.AllowPaths, src.BlockPaths)
	if err != nil {
		counters.errors.Add(1)
		logger.Warn("invalid source path rules", zap.Error(err))
		return
	}

	page, ok := c.discoverURL(ctx, runID, src, base, counters, logger)
	if !ok {
		return
	}
	limit := src.MaxRequestsPerRun
	if limit <= 0 {
		limit = c.cfg.MaxRequestsPerRun
	}
	for _, link := range discoverLinks(page, base, filter, limit) {
		if ctx.Err() != nil {
			return
		}
		c.discoverURL(ctx, runID, src, link, counters, logger)
	}
}

// discoverLinks returns up to limit normalized same-host links that pass
// filter, excluding base and duplicates, in page order.
func discoverLinks(page extract.Page, base string, filter *simple.Policy, limit int) []string {
	seen := map[string]struct{}{base: {}}
	out := make([]string, 0, limit)
	for _, link := range page.Links {
		if len(out) >= limit {
			break
		}
		norm, err := NormalizeURL(link.URL)
		if err != nil || !filter.AllowURL(norm) {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// discoverURL fetches and processes one URL. It reports the parsed page and
// whether the fetch produced one.
func (c *Crawler) discoverURL(ctx context.Context, runID string, src Source, canonical string, counters *runCounters, logger *zap.Logger) (extract.Page, bool) {
	res := c.fetcher.Fetch(ctx, c.fetchRequest(src, canonical, "", ""))
	counters.visited.Add(1)
	now := c.clock.Now()
	entry := newLogEntry(runID, ActionDiscover, src.ProgramType, src.ID, canonical, res, now)
	logger = logger.With(zap.String("url", canonical))

	switch res.Status {
	case FetchOK:
	case FetchBlocked:
		counters.blocked.Add(1)
		c.appendLog(ctx, entry)
		logger.Info("discover fetch blocked", zap.String("reason", res.BlockedReason))
		return extract.Page{}, false
	default:
		counters.errors.Add(1)
		c.appendLog(ctx, entry)
		logger.Info("discover fetch failed",
			zap.String("status", string(res.Status)),
			zap.Int("http_status", res.HTTPStatus),
			zap.String("error", res.ErrorMessage),
		)
		return extract.Page{}, false
	}

	page, err := extract.Parse(res.Body, res.FetchedURL)
	if err != nil {
		counters.errors.Add(1)
		entry.ErrorMessage = err.Error()
		c.appendLog(ctx, entry)
		logger.Warn("parse page failed", zap.Error(err))
		return extract.Page{}, false
	}

	opp := c.builder.FromPage(opportunity.BuildInput{
		ProgramType:  src.ProgramType,
		CanonicalURL: canonical,
		SourceURL:    src.BaseURL,
		ETag:         res.ETag,
		LastModified: res.LastModified,
	}, page)
	entry.ContentHash = opp.ContentHash
	c.appendLog(ctx, entry)

	decision := opportunity.GateOpportunity(opp, false, res.LoginWall, now)
	opp.SourceID = src.ID
	opp.LastVerifiedAt = now
	opp.FreshnessScore = opportunity.FreshnessScore(time.Time{}, now)
	opp.Status = decision.Status
	opp.StatusReason = decision.Reason

	result, err := c.store.UpsertOpportunity(ctx, opp)
	if err != nil {
		counters.errors.Add(1)
		logger.Error("upsert opportunity failed", zap.Error(err))
		return page, true
	}
	counters.accepted.Add(1)
	metrics.ObserveGateDecision(string(decision.Status))
	switch decision.Status {
	case opportunity.StatusExpired:
		counters.expired.Add(1)
	case opportunity.StatusNeedsReview:
		counters.needsReview.Add(1)
	case opportunity.StatusBlocked:
		counters.blocked.Add(1)
	}
	from := result.PreviousStatus
	if result.Created {
		from = ""
	}
	c.announce(ctx, runID, opp.Key(), src.ID, from, decision.Status, decision.Reason)
	logger.Debug("opportunity upserted",
		zap.String("status", string(decision.Status)),
		zap.Bool("created", result.Created),
	)
	return page, true
}
