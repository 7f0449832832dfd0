package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
)

var (
	// ErrSourceNotFound is returned by registries for unknown source IDs.
	ErrSourceNotFound = errors.New("source not found")
	// ErrRegistryUnavailable wraps failures to list sources; it fails a run.
	ErrRegistryUnavailable = errors.New("source registry unavailable")
)

// Store persists opportunities keyed by (canonical_url, program_type) and the
// fetch audit log. Implementations provide per-row atomicity only.
type Store interface {
	UpsertOpportunity(ctx context.Context, opp opportunity.Opportunity) (UpsertResult, error)
	GetOpportunity(ctx context.Context, key opportunity.Key) (opportunity.Opportunity, error)
	ListForVerification(ctx context.Context, filter VerifyFilter) ([]opportunity.Opportunity, error)
	UpdateVerification(ctx context.Context, key opportunity.Key, update VerificationUpdate) error
	ReplaceOpportunity(ctx context.Context, opp opportunity.Opportunity) error
	MarkBlocked(ctx context.Context, key opportunity.Key, reason string, at time.Time) error
	ExpirePastDeadlines(ctx context.Context, today time.Time) (int64, error)
	AppendFetchLog(ctx context.Context, entry FetchLogEntry) error
}

// SourceRegistry lists crawl sources.
type SourceRegistry interface {
	ListActive(ctx context.Context, programType string) ([]Source, error)
	Get(ctx context.Context, id string) (Source, error)
}

// Publisher announces opportunity status changes.
type Publisher interface {
	PublishStatusChange(ctx context.Context, change StatusChange) error
}

// PageFetcher fetches a page and classifies the outcome. Failures are
// reported in the result, never as a panic or error.
type PageFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) FetchResult
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type noopPublisher struct{}

func (noopPublisher) PublishStatusChange(context.Context, StatusChange) error { return nil }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
