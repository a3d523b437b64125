package db

// Db is the persistence surface the Controller, Verifier Worker,
// Anti-Greylist Store and Catch-All Cache are built against. Two
// concrete backends implement it: db/crawshaw (crawshaw.io/sqlite) and
// db/zombiezen (zombiezen.com/go/sqlite).
type Db interface {
	// Queue operations.

	// AddRequest inserts a new request. Returns ErrDuplicateRequest if
	// request_id already exists.
	AddRequest(req Request) error
	// PeekRequest returns the oldest request without removing it.
	// Returns ErrQueueEmpty if the queue has no rows.
	PeekRequest() (Request, error)
	// RemoveRequest deletes a request by id once a worker has claimed it.
	RemoveRequest(requestID string) error
	// HasRequest reports whether request_id is currently queued.
	HasRequest(requestID string) (bool, error)
	// QueueEmpty reports whether the queue has no rows.
	QueueEmpty() (bool, error)
	// ListQueued returns every queued request, oldest first. Used by
	// startup recovery to rebuild in-memory queue state.
	ListQueued() ([]Request, error)

	// Assignment operations: which worker slot is processing what.

	UpsertAssignment(a Assignment) error
	DeleteAssignment(workerIndex int) error
	GetAssignment(workerIndex int) (Assignment, error)
	ListAssignments() ([]Assignment, error)

	// Archive operations: best-known partial verdict per in-flight
	// request, keyed by request_id.

	UpsertArchive(e ArchiveEntry) error
	GetArchive(requestID string) (ArchiveEntry, error)
	DeleteArchive(requestID string) error
	ListArchive() ([]ArchiveEntry, error)

	// Results operations: the externally visible row per request.

	UpsertResults(r ResultsRow) error
	GetResults(requestID string) (ResultsRow, error)
	ListResultsByStatus(status string) ([]ResultsRow, error)

	// Anti-Greylist Store operations.

	UpsertAntiGreylist(e AntiGreylistEntry) error
	GetAntiGreylist(requestID string) (AntiGreylistEntry, error)
	DeleteAntiGreylist(requestID string) error
	// ListRetryReady returns entries whose next_retry_at has elapsed.
	ListRetryReady(now string) ([]AntiGreylistEntry, error)
	IncrementAntiGreylistAttempts(requestID string, nextRetryAt string) error

	// Catch-All Cache operations.

	UpsertCatchAll(e CatchAllCacheEntry) error
	GetCatchAll(domain string) (CatchAllCacheEntry, error)
	// CleanCatchAll deletes entries whose expires_at has elapsed.
	CleanCatchAll(now string) error

	Close() error
}
