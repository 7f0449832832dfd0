// Package memory provides in-memory opportunity, fetch-log, and source
// registry implementations for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	"github.com/JakeFAU/opportunity-crawler/internal/storage"
)

// Store implements crawler.Store and crawler.SourceRegistry.
type Store struct {
	mu       sync.RWMutex
	opps     map[opportunity.Key]opportunity.Opportunity
	fetchLog []crawler.FetchLogEntry
	sources  map[string]crawler.Source
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		opps:    make(map[opportunity.Key]opportunity.Opportunity),
		sources: make(map[string]crawler.Source),
	}
}

// UpsertOpportunity inserts or fully replaces the row for opp's key.
func (s *Store) UpsertOpportunity(_ context.Context, opp opportunity.Opportunity) (crawler.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.opps[opp.Key()]
	s.opps[opp.Key()] = clone(opp)
	if !exists {
		return crawler.UpsertResult{Created: true}, nil
	}
	return crawler.UpsertResult{PreviousStatus: prev.Status}, nil
}

// GetOpportunity returns the row for key.
func (s *Store) GetOpportunity(_ context.Context, key opportunity.Key) (opportunity.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opp, ok := s.opps[key]
	if !ok {
		return opportunity.Opportunity{}, fmt.Errorf("opportunity %s/%s: %w", key.ProgramType, key.CanonicalURL, storage.ErrNotFound)
	}
	return clone(opp), nil
}

// ListForVerification returns rows matching filter, oldest verification first.
func (s *Store) ListForVerification(_ context.Context, filter crawler.VerifyFilter) ([]opportunity.Opportunity, error) {
	s.mu.RLock()
	out := make([]opportunity.Opportunity, 0, len(s.opps))
	for _, opp := range s.opps {
		if filter.ProgramType != "" && opp.ProgramType != filter.ProgramType {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, opp.Status) {
			continue
		}
		out = append(out, clone(opp))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b opportunity.Opportunity) int {
		if c := a.LastVerifiedAt.Compare(b.LastVerifiedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.CanonicalURL, b.CanonicalURL)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateVerification moves the timestamp, freshness, and status of key.
func (s *Store) UpdateVerification(_ context.Context, key opportunity.Key, u crawler.VerificationUpdate) error {
	return s.update(key, func(opp *opportunity.Opportunity) {
		opp.LastVerifiedAt = u.VerifiedAt
		opp.FreshnessScore = u.FreshnessScore
		opp.Status = u.Status
		opp.StatusReason = u.StatusReason
		if u.ETag != "" {
			opp.ETag = u.ETag
		}
		if u.PageLastModified != "" {
			opp.PageLastModified = u.PageLastModified
		}
	})
}

// ReplaceOpportunity rewrites an existing row.
func (s *Store) ReplaceOpportunity(_ context.Context, opp opportunity.Opportunity) error {
	return s.update(opp.Key(), func(existing *opportunity.Opportunity) {
		*existing = clone(opp)
	})
}

// MarkBlocked sets key to BLOCKED with reason. The verification timestamp is
// left alone since nothing was verified.
func (s *Store) MarkBlocked(_ context.Context, key opportunity.Key, reason string, _ time.Time) error {
	return s.update(key, func(opp *opportunity.Opportunity) {
		opp.Status = opportunity.StatusBlocked
		opp.StatusReason = reason
	})
}

// ExpirePastDeadlines expires ACTIVE and NEEDS_REVIEW rows whose non-LOW
// deadline is strictly before today.
func (s *Store) ExpirePastDeadlines(_ context.Context, today time.Time) (int64, error) {
	today = opportunity.Day(today)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, opp := range s.opps {
		if opp.DeadlineDate == nil || opp.DeadlineConfidence == opportunity.ConfidenceLow {
			continue
		}
		if opp.Status != opportunity.StatusActive && opp.Status != opportunity.StatusNeedsReview {
			continue
		}
		if !opportunity.Day(*opp.DeadlineDate).Before(today) {
			continue
		}
		opp.Status = opportunity.StatusExpired
		opp.StatusReason = opportunity.ReasonDeadlinePassed
		s.opps[key] = opp
		n++
	}
	return n, nil
}

// AppendFetchLog records entry.
func (s *Store) AppendFetchLog(_ context.Context, entry crawler.FetchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchLog = append(s.fetchLog, entry)
	return nil
}

// FetchLog returns a copy of the recorded fetch-log rows.
func (s *Store) FetchLog() []crawler.FetchLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fetchLog)
}

// Opportunities returns a copy of every stored row ordered by key.
func (s *Store) Opportunities() []opportunity.Opportunity {
	s.mu.RLock()
	out := make([]opportunity.Opportunity, 0, len(s.opps))
	for _, opp := range s.opps {
		out = append(out, clone(opp))
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b opportunity.Opportunity) int {
		if c := cmp.Compare(a.CanonicalURL, b.CanonicalURL); c != 0 {
			return c
		}
		return cmp.Compare(a.ProgramType, b.ProgramType)
	})
	return out
}

// PutSource adds or replaces a registry entry.
func (s *Store) PutSource(src crawler.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = cloneSource(src)
}

// ListActive returns active sources, optionally filtered by program type.
func (s *Store) ListActive(_ context.Context, programType string) ([]crawler.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if !src.Active || (programType != "" && src.ProgramType != programType) {
			continue
		}
		out = append(out, cloneSource(src))
	}
	slices.SortFunc(out, func(a, b crawler.Source) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Get returns the source with id.
func (s *Store) Get(_ context.Context, id string) (crawler.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return crawler.Source{}, fmt.Errorf("source %q: %w", id, crawler.ErrSourceNotFound)
	}
	return cloneSource(src), nil
}

func (s *Store) update(key opportunity.Key, fn func(*opportunity.Opportunity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opp, ok := s.opps[key]
	if !ok {
		return fmt.Errorf("opportunity %s/%s: %w", key.ProgramType, key.CanonicalURL, storage.ErrNotFound)
	}
	fn(&opp)
	s.opps[key] = opp
	return nil
}

func clone(opp opportunity.Opportunity) opportunity.Opportunity {
	if opp.DeadlineDate != nil {
		d := *opp.DeadlineDate
		opp.DeadlineDate = &d
	}
	return opp
}

func cloneSource(src crawler.Source) crawler.Source {
	src.AllowPaths = slices.Clone(src.AllowPaths)
	src.BlockPaths = slices.Clone(src.BlockPaths)
	return src
}
