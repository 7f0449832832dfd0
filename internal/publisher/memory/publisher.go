// Package memory contains an in-memory status-change publisher for tests and
// local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
)

// Publisher stores published status changes for inspection.
type Publisher struct {
	mu      sync.RWMutex
	changes []crawler.StatusChange
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishStatusChange records change.
func (p *Publisher) PublishStatusChange(_ context.Context, change crawler.StatusChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

// Changes returns the recorded changes.
func (p *Publisher) Changes() []crawler.StatusChange {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.StatusChange, len(p.changes))
	copy(out, p.changes)
	return out
}
