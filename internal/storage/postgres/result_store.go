// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStoreConfig controls the Postgres connection pool used for aggregate
// rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ResultStore persists aggregate results into Postgres, one row per job with
// the search fingerprint alongside. Fingerprint lookups serve the newest row.
type ResultStore struct {
	pool  dbPool
	table string
}

// NewResultStore creates a Postgres-backed ResultStore using the provided
// config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "aggregates"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewResultStoreWithPool(pool dbPool, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "aggregates"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveAggregate upserts the aggregate row for a job. Rows are keyed by job
// id so a repeated search records a new row instead of erasing the prior
// job's result.
func (s *ResultStore) SaveAggregate(ctx context.Context, fingerprint string, result pricing.AggregateResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if result.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	criteriaJSON, err := json.Marshal(result.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	quotesJSON, err := json.Marshal(result.Quotes)
	if err != nil {
		return fmt.Errorf("marshal quotes: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	fingerprint,
	job_id,
	criteria,
	quotes,
	total_quotes,
	complete,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (job_id) DO UPDATE SET
	fingerprint = EXCLUDED.fingerprint,
	criteria = EXCLUDED.criteria,
	quotes = EXCLUDED.quotes,
	total_quotes = EXCLUDED.total_quotes,
	complete = EXCLUDED.complete,
	completed_at = EXCLUDED.completed_at`, s.table)

	args := []any{
		fingerprint,
		result.JobID,
		criteriaJSON,
		quotesJSON,
		result.TotalQuotes,
		result.Complete,
		result.CompletedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// GetByJobID loads the aggregate owned by a job, mapping pgx.ErrNoRows to
// pricing.ErrNotFound.
func (s *ResultStore) GetByJobID(ctx context.Context, jobID string) (pricing.AggregateResult, error) {
	query := fmt.Sprintf(`
SELECT job_id, criteria, quotes, total_quotes, complete, completed_at
FROM %s WHERE job_id = $1`, s.table)
	return s.scanRow(s.pool.QueryRow(ctx, query, jobID))
}

// GetByFingerprint loads the latest aggregate for a search fingerprint,
// mapping pgx.ErrNoRows to pricing.ErrNotFound.
func (s *ResultStore) GetByFingerprint(ctx context.Context, fingerprint string) (pricing.AggregateResult, error) {
	query := fmt.Sprintf(`
SELECT job_id, criteria, quotes, total_quotes, complete, completed_at
FROM %s WHERE fingerprint = $1
ORDER BY completed_at DESC LIMIT 1`, s.table)
	return s.scanRow(s.pool.QueryRow(ctx, query, fingerprint))
}

func (s *ResultStore) scanRow(row pgx.Row) (pricing.AggregateResult, error) {
	var (
		result       pricing.AggregateResult
		criteriaJSON []byte
		quotesJSON   []byte
	)
	err := row.Scan(
		&result.JobID,
		&criteriaJSON,
		&quotesJSON,
		&result.TotalQuotes,
		&result.Complete,
		&result.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.AggregateResult{}, pricing.ErrNotFound
		}
		return pricing.AggregateResult{}, fmt.Errorf("scan aggregate: %w", err)
	}
	if err := json.Unmarshal(criteriaJSON, &result.Criteria); err != nil {
		return pricing.AggregateResult{}, fmt.Errorf("decode criteria: %w", err)
	}
	if err := json.Unmarshal(quotesJSON, &result.Quotes); err != nil {
		return pricing.AggregateResult{}, fmt.Errorf("decode quotes: %w", err)
	}
	return result, nil
}
