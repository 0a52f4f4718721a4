package scrape

import "errors"

// Sentinel errors used to classify fetch and parse results into Outcomes.
var (
	// ErrNotFound signals the source has no entity for the probed ID. It is
	// returned both for transport-level 404s and for pages whose content
	// indicates the entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrTransient signals a network or 5xx-class failure. The ID is not
	// retried; the outcome contributes to the consecutive-error ceiling.
	ErrTransient = errors.New("transient fetch failure")

	// ErrTooManyErrors aborts a run when the consecutive-error ceiling is
	// exceeded.
	ErrTooManyErrors = errors.New("consecutive error ceiling exceeded")
)
