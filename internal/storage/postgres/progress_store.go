package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkival/seqscan/internal/scrape"
)

// progressRowID pins the checkpoint to a single row.
const progressRowID = 1

type progressQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ProgressStore persists the singleton scan checkpoint in Postgres.
type ProgressStore struct {
	pool progressQuerier
}

// NewProgressStore creates a Postgres-backed ProgressStore.
func NewProgressStore(ctx context.Context, dsn string) (*ProgressStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewProgressStoreWithPool(pool progressQuerier) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ReadProgress returns the checkpoint, creating the idle singleton row when
// none exists.
func (s *ProgressStore) ReadProgress(ctx context.Context) (scrape.Progress, error) {
	initQuery := `
		INSERT INTO scrape_progress (id, last_processed_id, status, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, initQuery, progressRowID, scrape.StatusIdle, time.Now().UTC()); err != nil {
		return scrape.Progress{}, fmt.Errorf("initialize progress row: %w", err)
	}

	query := `
		SELECT last_processed_id, status, COALESCE(error_message, ''), updated_at
		FROM scrape_progress
		WHERE id = $1;
	`
	var p scrape.Progress
	err := s.pool.QueryRow(ctx, query, progressRowID).Scan(
		&p.LastProcessedID,
		&p.Status,
		&p.ErrorMessage,
		&p.UpdatedAt,
	)
	if err != nil {
		return scrape.Progress{}, fmt.Errorf("read progress row: %w", err)
	}
	return p, nil
}

// WriteProgress upserts the checkpoint row.
func (s *ProgressStore) WriteProgress(ctx context.Context, p scrape.Progress) error {
	query := `
		INSERT INTO scrape_progress (id, last_processed_id, status, error_message, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE SET
			last_processed_id = EXCLUDED.last_processed_id,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query,
		progressRowID,
		p.LastProcessedID,
		p.Status,
		p.ErrorMessage,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("write progress row: %w", err)
	}
	return nil
}
