package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
)

const sourceColumns = `id, program_type, base_url, allow_paths, block_paths, active,
	respect_robots, max_requests_per_run, min_delay_ms`

// ListActive returns active sources ordered by id, optionally filtered by
// program type. Query failures surface as crawler.ErrRegistryUnavailable.
func (s *Store) ListActive(ctx context.Context, programType string) ([]crawler.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources
WHERE active AND ($1 = '' OR program_type = $1)
ORDER BY id`
	rows, err := s.pool.Query(ctx, query, programType)
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %w", crawler.ErrRegistryUnavailable, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crawler.Source, error) {
		return scanSource(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan sources: %w", crawler.ErrRegistryUnavailable, err)
	}
	return out, nil
}

// Get returns the source with id or crawler.ErrSourceNotFound.
func (s *Store) Get(ctx context.Context, id string) (crawler.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	src, err := scanSource(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Source{}, fmt.Errorf("source %q: %w", id, crawler.ErrSourceNotFound)
	}
	if err != nil {
		return crawler.Source{}, fmt.Errorf("get source %q: %w", id, err)
	}
	return src, nil
}

// PutSource inserts or replaces a registry entry.
func (s *Store) PutSource(ctx context.Context, src crawler.Source) error {
	query := `INSERT INTO sources (` + sourceColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	program_type = EXCLUDED.program_type,
	base_url = EXCLUDED.base_url,
	allow_paths = EXCLUDED.allow_paths,
	block_paths = EXCLUDED.block_paths,
	active = EXCLUDED.active,
	respect_robots = EXCLUDED.respect_robots,
	max_requests_per_run = EXCLUDED.max_requests_per_run,
	min_delay_ms = EXCLUDED.min_delay_ms`
	_, err := s.pool.Exec(ctx, query,
		src.ID, src.ProgramType, src.BaseURL, nonNil(src.AllowPaths), nonNil(src.BlockPaths),
		src.Active, src.RespectRobots, src.MaxRequestsPerRun, src.MinDelay.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("put source %q: %w", src.ID, err)
	}
	return nil
}

func scanSource(row pgx.Row) (crawler.Source, error) {
	var (
		src     crawler.Source
		delayMS int64
	)
	err := row.Scan(
		&src.ID, &src.ProgramType, &src.BaseURL, &src.AllowPaths, &src.BlockPaths, &src.Active,
		&src.RespectRobots, &src.MaxRequestsPerRun, &delayMS,
	)
	if err != nil {
		return crawler.Source{}, err
	}
	src.MinDelay = time.Duration(delayMS) * time.Millisecond
	return src, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
