package scrape

import (
	"context"
	"time"
)

// Fetcher retrieves the raw page for a source ID. It returns an error
// wrapping ErrNotFound when the source reports no such entity and an error
// wrapping ErrTransient for network/5xx-class failures.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) (Page, error)
}

// Parser extracts a Listing from a fetched page. A nil Listing with a nil
// error means the page exists but carries no usable record. An error
// wrapping ErrNotFound means the page content indicates the entity does not
// exist, even when the transport layer did not report a 404.
type Parser interface {
	Parse(page Page) (*Listing, error)
}

// ListingStore persists listings. UpsertBatch must be idempotent by
// SourceID so that re-delivery does not duplicate state.
type ListingStore interface {
	UpsertBatch(ctx context.Context, listings []Listing) error
}

// ProgressStore persists the singleton scan checkpoint.
type ProgressStore interface {
	ReadProgress(ctx context.Context) (Progress, error)
	WriteProgress(ctx context.Context, p Progress) error
}

// BlobStore archives raw page bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes ingestion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
