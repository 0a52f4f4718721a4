package scrape

import (
	"context"
	"errors"
)

// Probe fetches and parses one ID and classifies the result as an Outcome.
// The raw page is returned alongside so callers can archive the body; it is
// the zero Page when the fetch itself failed.
//
// Classification rules:
//   - fetch or parse error wrapping ErrNotFound -> OutcomeNotFound
//   - any other fetch or parse error            -> OutcomeError
//   - nil listing from the parser               -> OutcomeFound, nil Listing
//     (the page exists but carries no usable record)
func Probe(ctx context.Context, fetcher Fetcher, parser Parser, id int64) (Outcome, Page) {
	page, err := fetcher.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{ID: id, Kind: OutcomeNotFound}, Page{}
		}
		return Outcome{ID: id, Kind: OutcomeError, Err: err}, Page{}
	}

	listing, err := parser.Parse(page)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{ID: id, Kind: OutcomeNotFound}, page
		}
		return Outcome{ID: id, Kind: OutcomeError, Err: err}, page
	}
	return Outcome{ID: id, Kind: OutcomeFound, Listing: listing}, page
}
