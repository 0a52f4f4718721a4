// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkival/seqscan/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// listingColumns is the column list behind each upsert; the row width bounds
// how many listings fit under the Postgres parameter limit per statement.
const listingColumns = 11

// ListingStoreConfig controls the Postgres connection pool used for listings.
type ListingStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ListingStore writes listing rows into Postgres with idempotent upserts
// keyed by source ID.
type ListingStore struct {
	pool  execCloser
	table string
}

// NewListingStore creates a Postgres-backed ListingStore using the provided
// config.
func NewListingStore(ctx context.Context, cfg ListingStoreConfig) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "listings"
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
	return &ListingStore{pool: pool, table: table}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewListingStoreWithPool(pool execCloser, table string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertBatch inserts or updates the listings in one multi-row statement.
// Re-delivering a listing leaves a single row reflecting the most recently
// persisted values. The batch buffer's chunk ceiling keeps the statement
// under the Postgres bind-parameter limit.
func (s *ListingStore) UpsertBatch(ctx context.Context, listings []scrape.Listing) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("listing store is not configured")
	}
	if len(listings) == 0 {
		return nil
	}

	args := make([]any, 0, len(listings)*listingColumns)
	for _, l := range listings {
		attrs, err := json.Marshal(l.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes for %d: %w", l.SourceID, err)
		}
		args = append(args,
			l.SourceID,
			l.Title,
			l.PriceCents,
			l.Currency,
			l.Location,
			l.Description,
			attrs,
			l.URL,
			l.ContentHash,
			l.BlobURI,
			l.FetchedAt,
		)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	source_id,
	title,
	price_cents,
	currency,
	location,
	description,
	attributes,
	url,
	content_hash,
	blob_uri,
	fetched_at
) VALUES %s
ON CONFLICT (source_id) DO UPDATE SET
	title = EXCLUDED.title,
	price_cents = EXCLUDED.price_cents,
	currency = EXCLUDED.currency,
	location = EXCLUDED.location,
	description = EXCLUDED.description,
	attributes = EXCLUDED.attributes,
	url = EXCLUDED.url,
	content_hash = EXCLUDED.content_hash,
	blob_uri = EXCLUDED.blob_uri,
	fetched_at = EXCLUDED.fetched_at`,
		s.table, valuesClause(len(listings)))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d listings: %w", len(listings), err)
	}
	return nil
}

// valuesClause builds "($1,...,$11),($12,...,$22),..." for n rows.
func valuesClause(n int) string {
	var b strings.Builder
	param := 1
	for row := 0; row < n; row++ {
		if row > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for col := 0; col < listingColumns; col++ {
			if col > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", param)
			param++
		}
		b.WriteString(")")
	}
	return b.String()
}
