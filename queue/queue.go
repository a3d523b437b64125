// Package queue implements the durable, deduplicated FIFO request
// queue the Controller pulls work from.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/deliverkit/verifier/db"
)

// Queue is a durable, deduplicated-by-request_id FIFO. Every mutating
// operation is written through to the backing store before the
// in-memory dedup index is updated, so a crash between the two never
// leaves the index believing a request exists that isn't durable.
type Queue struct {
	store db.Db

	mu    sync.Mutex
	known map[string]struct{}
}

// New constructs a Queue backed by store. Callers must call Load once
// at startup (see recovery) to repopulate the dedup index from disk.
func New(store db.Db) *Queue {
	return &Queue{store: store, known: make(map[string]struct{})}
}

// Load seeds the in-memory dedup index from every request currently
// durable in the backing store. Used by startup recovery.
func (q *Queue) Load() error {
	reqs, err := q.store.ListQueued()
	if err != nil {
		return fmt.Errorf("queue: load: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range reqs {
		q.known[r.RequestID] = struct{}{}
	}
	return nil
}

// Add enqueues req. A request_id already present is a no-op success,
// not an error: the caller's retry/at-least-once delivery is expected
// to re-submit identical request ids.
func (q *Queue) Add(req db.Request) error {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	_, dup := q.known[req.RequestID]
	q.mu.Unlock()
	if dup {
		return nil
	}

	if err := q.store.AddRequest(req); err != nil {
		if err == db.ErrDuplicateRequest {
			q.mu.Lock()
			q.known[req.RequestID] = struct{}{}
			q.mu.Unlock()
			return nil
		}
		return fmt.Errorf("queue: add: %w", err)
	}

	q.mu.Lock()
	q.known[req.RequestID] = struct{}{}
	q.mu.Unlock()
	return nil
}

// Current returns the oldest request without removing it, or
// db.ErrQueueEmpty.
func (q *Queue) Current() (db.Request, error) {
	return q.store.PeekRequest()
}

// Done removes req from the queue once a worker slot has claimed it.
func (q *Queue) Done(requestID string) error {
	if err := q.store.RemoveRequest(requestID); err != nil {
		return fmt.Errorf("queue: done: %w", err)
	}
	q.mu.Lock()
	delete(q.known, requestID)
	q.mu.Unlock()
	return nil
}

// HasRequestID reports whether request_id is currently queued.
func (q *Queue) HasRequestID(requestID string) bool {
	q.mu.Lock()
	_, ok := q.known[requestID]
	q.mu.Unlock()
	return ok
}

// IsEmpty reports whether the queue holds no requests.
func (q *Queue) IsEmpty() (bool, error) {
	return q.store.QueueEmpty()
}
