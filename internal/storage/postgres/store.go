// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/database"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	"github.com/JakeFAU/opportunity-crawler/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const opportunityColumns = `canonical_url, program_type, source_id, source_url,
	institution, title, summary,
	funding_type, funding_confidence, funding_evidence,
	international, international_confidence, international_evidence,
	start_term, deadline_date, deadline_confidence, deadline_evidence,
	application_url, last_verified_at, freshness_score, status, status_reason,
	content_hash, page_last_modified, etag`

// Store implements crawler.Store and crawler.SourceRegistry on Postgres.
// Each method is a single statement, so atomicity is per row.
type Store struct {
	pool database.Pool
	now  func() time.Time
}

// NewStore wraps an open pool.
func NewStore(pool database.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Migrate applies the bundled schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertOpportunitySQL = `
WITH prev AS (
	SELECT status FROM opportunities WHERE canonical_url = $1 AND program_type = $2
)
INSERT INTO opportunities (` + opportunityColumns + `, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
ON CONFLICT (canonical_url, program_type) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	source_url = EXCLUDED.source_url,
	institution = EXCLUDED.institution,
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	funding_type = EXCLUDED.funding_type,
	funding_confidence = EXCLUDED.funding_confidence,
	funding_evidence = EXCLUDED.funding_evidence,
	international = EXCLUDED.international,
	international_confidence = EXCLUDED.international_confidence,
	international_evidence = EXCLUDED.international_evidence,
	start_term = EXCLUDED.start_term,
	deadline_date = EXCLUDED.deadline_date,
	deadline_confidence = EXCLUDED.deadline_confidence,
	deadline_evidence = EXCLUDED.deadline_evidence,
	application_url = EXCLUDED.application_url,
	last_verified_at = EXCLUDED.last_verified_at,
	freshness_score = EXCLUDED.freshness_score,
	status = EXCLUDED.status,
	status_reason = EXCLUDED.status_reason,
	content_hash = EXCLUDED.content_hash,
	page_last_modified = EXCLUDED.page_last_modified,
	etag = EXCLUDED.etag,
	updated_at = EXCLUDED.updated_at
RETURNING COALESCE((SELECT status FROM prev), '')`

// UpsertOpportunity inserts or fully replaces the row for opp's key and
// reports the status it replaced.
func (s *Store) UpsertOpportunity(ctx context.Context, opp opportunity.Opportunity) (crawler.UpsertResult, error) {
	args := append(opportunityArgs(opp), s.now().UTC())
	var prev string
	if err := s.pool.QueryRow(ctx, upsertOpportunitySQL, args...).Scan(&prev); err != nil {
		return crawler.UpsertResult{}, fmt.Errorf("upsert opportunity %s: %w", opp.CanonicalURL, err)
	}
	if prev == "" {
		return crawler.UpsertResult{Created: true}, nil
	}
	return crawler.UpsertResult{PreviousStatus: opportunity.Status(prev)}, nil
}

// GetOpportunity returns the row for key or storage.ErrNotFound.
func (s *Store) GetOpportunity(ctx context.Context, key opportunity.Key) (opportunity.Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities WHERE canonical_url = $1 AND program_type = $2`
	opp, err := scanOpportunity(s.pool.QueryRow(ctx, query, key.CanonicalURL, key.ProgramType))
	if errors.Is(err, pgx.ErrNoRows) {
		return opportunity.Opportunity{}, fmt.Errorf("opportunity %s/%s: %w", key.ProgramType, key.CanonicalURL, storage.ErrNotFound)
	}
	if err != nil {
		return opportunity.Opportunity{}, fmt.Errorf("get opportunity: %w", err)
	}
	return opp, nil
}

// ListForVerification returns rows matching filter, oldest verification first.
func (s *Store) ListForVerification(ctx context.Context, filter crawler.VerifyFilter) ([]opportunity.Opportunity, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query := `SELECT ` + opportunityColumns + ` FROM opportunities
WHERE ($1 = '' OR program_type = $1)
  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
ORDER BY last_verified_at ASC, canonical_url ASC
LIMIT $3`
	rows, err := s.pool.Query(ctx, query, filter.ProgramType, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (opportunity.Opportunity, error) {
		return scanOpportunity(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan opportunities: %w", err)
	}
	return out, nil
}

// UpdateVerification moves the timestamp, freshness, and status of key.
// Empty validators keep the stored values.
func (s *Store) UpdateVerification(ctx context.Context, key opportunity.Key, u crawler.VerificationUpdate) error {
	query := `UPDATE opportunities SET
	last_verified_at = $3,
	freshness_score = $4,
	status = $5,
	status_reason = $6,
	etag = COALESCE(NULLIF($7, ''), etag),
	page_last_modified = COALESCE(NULLIF($8, ''), page_last_modified),
	updated_at = $9
WHERE canonical_url = $1 AND program_type = $2`
	return s.execOne(ctx, key, "update verification", query,
		key.CanonicalURL, key.ProgramType,
		u.VerifiedAt.UTC(), u.FreshnessScore, string(u.Status), u.StatusReason,
		u.ETag, u.PageLastModified, s.now().UTC(),
	)
}

// ReplaceOpportunity rewrites every column of an existing row.
func (s *Store) ReplaceOpportunity(ctx context.Context, opp opportunity.Opportunity) error {
	query := `UPDATE opportunities SET
	source_id = $3, source_url = $4,
	institution = $5, title = $6, summary = $7,
	funding_type = $8, funding_confidence = $9, funding_evidence = $10,
	international = $11, international_confidence = $12, international_evidence = $13,
	start_term = $14, deadline_date = $15, deadline_confidence = $16, deadline_evidence = $17,
	application_url = $18, last_verified_at = $19, freshness_score = $20,
	status = $21, status_reason = $22,
	content_hash = $23, page_last_modified = $24, etag = $25,
	updated_at = $26
WHERE canonical_url = $1 AND program_type = $2`
	args := append(opportunityArgs(opp), s.now().UTC())
	return s.execOne(ctx, opp.Key(), "replace opportunity", query, args...)
}

// MarkBlocked sets key to BLOCKED with reason. last_verified_at is unchanged.
func (s *Store) MarkBlocked(ctx context.Context, key opportunity.Key, reason string, at time.Time) error {
	query := `UPDATE opportunities SET status = $3, status_reason = $4, updated_at = $5
WHERE canonical_url = $1 AND program_type = $2`
	return s.execOne(ctx, key, "mark blocked", query,
		key.CanonicalURL, key.ProgramType, string(opportunity.StatusBlocked), reason, at.UTC(),
	)
}

// ExpirePastDeadlines expires ACTIVE and NEEDS_REVIEW rows whose non-LOW
// deadline is strictly before today.
func (s *Store) ExpirePastDeadlines(ctx context.Context, today time.Time) (int64, error) {
	query := `UPDATE opportunities SET status = $1, status_reason = $2, updated_at = $3
WHERE status IN ($4, $5)
  AND deadline_date IS NOT NULL
  AND deadline_date < $6
  AND deadline_confidence <> $7`
	tag, err := s.pool.Exec(ctx, query,
		string(opportunity.StatusExpired), opportunity.ReasonDeadlinePassed, s.now().UTC(),
		string(opportunity.StatusActive), string(opportunity.StatusNeedsReview),
		opportunity.Day(today), string(opportunity.ConfidenceLow),
	)
	if err != nil {
		return 0, fmt.Errorf("expire past deadlines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AppendFetchLog inserts one audit row.
func (s *Store) AppendFetchLog(ctx context.Context, e crawler.FetchLogEntry) error {
	query := `INSERT INTO fetch_log (
	run_id, action, status, program_type, source_id, canonical_url, fetched_url,
	http_status, elapsed_ms, response_bytes, etag, page_last_modified, content_hash,
	blocked_reason, error_message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := s.pool.Exec(ctx, query,
		e.RunID, string(e.Action), string(e.Status), e.ProgramType, e.SourceID, e.CanonicalURL, e.FetchedURL,
		e.HTTPStatus, e.ElapsedMS, e.ResponseBytes, e.ETag, e.PageLastModified, e.ContentHash,
		e.BlockedReason, e.ErrorMessage, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	return nil
}

func (s *Store) execOne(ctx context.Context, key opportunity.Key, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s/%s: %w", op, key.ProgramType, key.CanonicalURL, storage.ErrNotFound)
	}
	return nil
}

func opportunityArgs(o opportunity.Opportunity) []any {
	var deadline *time.Time
	if o.DeadlineDate != nil {
		d := opportunity.Day(*o.DeadlineDate)
		deadline = &d
	}
	return []any{
		o.CanonicalURL, o.ProgramType, o.SourceID, o.SourceURL,
		o.Institution, o.Title, o.Summary,
		string(o.FundingType), string(o.FundingConfidence), o.FundingEvidence,
		string(o.International), string(o.InternationalConfidence), o.InternationalEvidence,
		o.StartTerm, deadline, string(o.DeadlineConfidence), o.DeadlineEvidence,
		o.ApplicationURL, o.LastVerifiedAt.UTC(), o.FreshnessScore, string(o.Status), o.StatusReason,
		o.ContentHash, o.PageLastModified, o.ETag,
	}
}

func scanOpportunity(row pgx.Row) (opportunity.Opportunity, error) {
	var (
		o                                         opportunity.Opportunity
		fundingType, fundingConf                  string
		international, internationalConf, dlConf string
		status                                    string
		deadline                                  *time.Time
	)
	err := row.Scan(
		&o.CanonicalURL, &o.ProgramType, &o.SourceID, &o.SourceURL,
		&o.Institution, &o.Title, &o.Summary,
		&fundingType, &fundingConf, &o.FundingEvidence,
		&international, &internationalConf, &o.InternationalEvidence,
		&o.StartTerm, &deadline, &dlConf, &o.DeadlineEvidence,
		&o.ApplicationURL, &o.LastVerifiedAt, &o.FreshnessScore, &status, &o.StatusReason,
		&o.ContentHash, &o.PageLastModified, &o.ETag,
	)
	if err != nil {
		return opportunity.Opportunity{}, err
	}
	o.FundingType = opportunity.FundingType(fundingType)
	o.FundingConfidence = opportunity.Confidence(fundingConf)
	o.International = opportunity.Eligibility(international)
	o.InternationalConfidence = opportunity.Confidence(internationalConf)
	o.DeadlineConfidence = opportunity.Confidence(dlConf)
	o.Status = opportunity.Status(status)
	if deadline != nil {
		d := deadline.UTC()
		o.DeadlineDate = &d
	}
	o.LastVerifiedAt = o.LastVerifiedAt.UTC()
	return o, nil
}
