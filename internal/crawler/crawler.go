package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/hash/sha256"
	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
)

// Deps are the collaborators a Crawler needs. Store and Registry are
// required; everything else has a default.
type Deps struct {
	Store      Store
	Registry   SourceRegistry
	Fetcher    PageFetcher
	Publisher  Publisher
	Builder    *opportunity.Builder
	Clock      Clock
	IDs        IDGenerator
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Crawler runs the Discover, Verify, and Reaper workflows. All host-keyed
// politeness and robots state is owned by its Fetcher.
type Crawler struct {
	cfg       Config
	store     Store
	registry  SourceRegistry
	fetcher   PageFetcher
	publisher Publisher
	builder   *opportunity.Builder
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// New constructs a Crawler.
func New(cfg Config, deps Deps) (*Crawler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("crawler: store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("crawler: source registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}
	if deps.Builder == nil {
		deps.Builder = opportunity.NewBuilder(opportunity.Strategies{}, sha256.NewWithLimit(cfg.ContentHashChars))
	}
	if deps.Fetcher == nil {
		robots := NewRobotsCache(deps.HTTPClient, cfg.UserAgent, cfg.RobotsTTL, cfg.RobotsMode, deps.Logger.Named("robots")).
			WithTimeout(cfg.Timeout)
		deps.Fetcher = NewFetcher(cfg, deps.HTTPClient, robots, NewPoliteness(cfg), deps.Logger.Named("fetch"))
	}
	return &Crawler{
		cfg:       cfg,
		store:     deps.Store,
		registry:  deps.Registry,
		fetcher:   deps.Fetcher,
		publisher: deps.Publisher,
		builder:   deps.Builder,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    deps.Logger,
	}, nil
}

func (c *Crawler) newRunID() string {
	if c.ids != nil {
		if id, err := c.ids.NewID(); err == nil {
			return id
		}
	}
	return "run-" + strconv.FormatInt(c.clock.Now().UnixNano(), 36)
}

func (c *Crawler) fetchRequest(src Source, target, etag, lastModified string) FetchRequest {
	delay := src.MinDelay
	if delay <= 0 {
		delay = c.cfg.DefaultMinDelay
	}
	return FetchRequest{
		URL:           target,
		CanonicalURL:  target,
		Timeout:       c.cfg.Timeout,
		MinDelay:      delay,
		MaxBytes:      c.cfg.MaxBytes,
		ETag:          etag,
		LastModified:  lastModified,
		RespectRobots: src.RespectRobots,
	}
}

func newLogEntry(runID string, action Action, programType, sourceID, canonical string, res FetchResult, at time.Time) FetchLogEntry {
	return FetchLogEntry{
		RunID:            runID,
		Action:           action,
		Status:           res.Status,
		ProgramType:      programType,
		SourceID:         sourceID,
		CanonicalURL:     canonical,
		FetchedURL:       res.FetchedURL,
		HTTPStatus:       res.HTTPStatus,
		ElapsedMS:        res.Elapsed.Milliseconds(),
		ResponseBytes:    res.ResponseBytes,
		ETag:             res.ETag,
		PageLastModified: res.LastModified,
		BlockedReason:    res.BlockedReason,
		ErrorMessage:     res.ErrorMessage,
		CreatedAt:        at,
	}
}

// appendLog writes a fetch-log row. Failures are logged and counted only.
func (c *Crawler) appendLog(ctx context.Context, entry FetchLogEntry) {
	if err := c.store.AppendFetchLog(ctx, entry); err != nil {
		metrics.ObserveFetchLogFailure()
		c.logger.Warn("fetch log write failed",
			zap.String("run_id", entry.RunID),
			zap.String("url", entry.CanonicalURL),
			zap.Error(err),
		)
	}
}

// announce publishes a status change when from and to differ.
func (c *Crawler) announce(ctx context.Context, runID string, key opportunity.Key, sourceID string, from, to opportunity.Status, reason string) {
	if from == to {
		return
	}
	change := StatusChange{
		CanonicalURL: key.CanonicalURL,
		ProgramType:  key.ProgramType,
		SourceID:     sourceID,
		From:         from,
		To:           to,
		Reason:       reason,
		At:           c.clock.Now(),
		RunID:        runID,
	}
	metrics.ObserveStatusChange(string(to))
	if err := c.publisher.PublishStatusChange(ctx, change); err != nil {
		c.logger.Warn("status change publish failed",
			zap.String("url", key.CanonicalURL),
			zap.String("status", string(to)),
			zap.Error(err),
		)
	}
}

// runCounters are shared by concurrent source workers within one run.
type runCounters struct {
	sources     atomic.Int64
	visited     atomic.Int64
	accepted    atomic.Int64
	blocked     atomic.Int64
	expired     atomic.Int64
	needsReview atomic.Int64
	errors      atomic.Int64
}

func (r *runCounters) discoverSummary(runID string) DiscoverSummary {
	return DiscoverSummary{
		RunID:       runID,
		Sources:     r.sources.Load(),
		Visited:     r.visited.Load(),
		Accepted:    r.accepted.Load(),
		Blocked:     r.blocked.Load(),
		Expired:     r.expired.Load(),
		NeedsReview: r.needsReview.Load(),
		Errors:      r.errors.Load(),
	}
}

func registryError(err error) error {
	if errors.Is(err, ErrRegistryUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
}
