package db

import "errors"

// Sentinel errors returned by Db implementations. Backends must map
// their driver-specific constraint/not-found errors onto these so
// callers in queue/, controller/, antigreylist/ and catchall/ can
// branch with errors.Is instead of string matching.
var (
	// ErrDuplicateRequest is returned by AddRequest when request_id
	// already exists in the queue (primary key violation).
	ErrDuplicateRequest = errors.New("db: duplicate request id")

	// ErrNotFound is returned when a lookup by key finds no row.
	ErrNotFound = errors.New("db: not found")

	// ErrMissingFields is returned when a write would violate a
	// NOT NULL constraint because the caller left a required field zero.
	ErrMissingFields = errors.New("db: missing required fields")

	// ErrQueueEmpty is returned by PeekRequest when the queue has no rows.
	ErrQueueEmpty = errors.New("db: queue empty")
)
