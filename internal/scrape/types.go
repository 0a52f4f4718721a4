// Package scrape defines core types shared across subsystems.
package scrape

import (
	"net/http"
	"time"
)

// OutcomeKind classifies the result of probing a single source ID.
type OutcomeKind int

// Outcome classifications. NotFound is an expected signal that drives
// boundary detection, never an error state.
const (
	OutcomeFound OutcomeKind = iota
	OutcomeNotFound
	OutcomeError
)

// String returns the lowercase label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the immutable, classified result of probing one ID.
// Listing is non-nil only for Found outcomes that produced a usable record;
// a page that exists but carries no usable record is Found with a nil Listing.
type Outcome struct {
	ID      int64
	Kind    OutcomeKind
	Listing *Listing
	Err     error
}

// Listing is the record extracted from a catalog detail page. SourceID is the
// stable key; persistence is an idempotent upsert keyed on it.
type Listing struct {
	SourceID    int64             `json:"source_id"`
	Title       string            `json:"title"`
	PriceCents  int64             `json:"price_cents"`
	Currency    string            `json:"currency"`
	Location    string            `json:"location"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	URL         string            `json:"url"`
	ContentHash string            `json:"content_hash"`
	BlobURI     string            `json:"blob_uri,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// RunStatus represents the lifecycle state of a scan run.
type RunStatus string

// Run status values persisted in the progress checkpoint.
const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// Progress is the singleton checkpoint used to resume a later run from
// LastProcessedID + 1.
type Progress struct {
	LastProcessedID int64     `json:"last_processed_id"`
	Status          RunStatus `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Page is the raw fetch result for one source ID, handed to the Parser.
type Page struct {
	ID         int64
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
