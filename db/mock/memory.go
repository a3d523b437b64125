package mock

import (
	"sort"
	"sync"
	"time"

	"github.com/deliverkit/verifier/db"
)

// Memory is a small stateful in-memory db.Db, wired through Db's
// function fields, for tests that need more than one canned response
// across a sequence of calls (controller/ and recovery/ in
// particular, which drive a full queue -> assign -> report cycle).
type Memory struct {
	*Db

	mu          sync.Mutex
	queue       []db.Request
	assignments map[int]db.Assignment
	archive     map[string]db.ArchiveEntry
	results     map[string]db.ResultsRow
	antigrey    map[string]db.AntiGreylistEntry
	catchall    map[string]db.CatchAllCacheEntry
}

// NewMemory returns a ready-to-use stateful fake.
func NewMemory() *Memory {
	m := &Memory{
		assignments: make(map[int]db.Assignment),
		archive:     make(map[string]db.ArchiveEntry),
		results:     make(map[string]db.ResultsRow),
		antigrey:    make(map[string]db.AntiGreylistEntry),
		catchall:    make(map[string]db.CatchAllCacheEntry),
	}
	m.Db = &Db{
		AddRequestFunc: func(req db.Request) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, r := range m.queue {
				if r.RequestID == req.RequestID {
					return db.ErrDuplicateRequest
				}
			}
			m.queue = append(m.queue, req)
			return nil
		},
		PeekRequestFunc: func() (db.Request, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if len(m.queue) == 0 {
				return db.Request{}, db.ErrQueueEmpty
			}
			return m.queue[0], nil
		},
		RemoveRequestFunc: func(requestID string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, r := range m.queue {
				if r.RequestID == requestID {
					m.queue = append(m.queue[:i], m.queue[i+1:]...)
					return nil
				}
			}
			return nil
		},
		HasRequestFunc: func(requestID string) (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, r := range m.queue {
				if r.RequestID == requestID {
					return true, nil
				}
			}
			return false, nil
		},
		QueueEmptyFunc: func() (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return len(m.queue) == 0, nil
		},
		ListQueuedFunc: func() ([]db.Request, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			out := make([]db.Request, len(m.queue))
			copy(out, m.queue)
			return out, nil
		},

		UpsertAssignmentFunc: func(a db.Assignment) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.assignments[a.WorkerIndex] = a
			return nil
		},
		DeleteAssignmentFunc: func(workerIndex int) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.assignments, workerIndex)
			return nil
		},
		GetAssignmentFunc: func(workerIndex int) (db.Assignment, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			a, ok := m.assignments[workerIndex]
			if !ok {
				return db.Assignment{}, db.ErrNotFound
			}
			return a, nil
		},
		ListAssignmentsFunc: func() ([]db.Assignment, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			out := make([]db.Assignment, 0, len(m.assignments))
			for _, a := range m.assignments {
				out = append(out, a)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].WorkerIndex < out[j].WorkerIndex })
			return out, nil
		},

		UpsertArchiveFunc: func(e db.ArchiveEntry) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.archive[e.RequestID] = e
			return nil
		},
		GetArchiveFunc: func(requestID string) (db.ArchiveEntry, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			e, ok := m.archive[requestID]
			if !ok {
				return db.ArchiveEntry{}, db.ErrNotFound
			}
			return e, nil
		},
		DeleteArchiveFunc: func(requestID string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.archive, requestID)
			return nil
		},
		ListArchiveFunc: func() ([]db.ArchiveEntry, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			out := make([]db.ArchiveEntry, 0, len(m.archive))
			for _, e := range m.archive {
				out = append(out, e)
			}
			return out, nil
		},

		UpsertResultsFunc: func(r db.ResultsRow) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.results[r.RequestID] = r
			return nil
		},
		GetResultsFunc: func(requestID string) (db.ResultsRow, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			r, ok := m.results[requestID]
			if !ok {
				return db.ResultsRow{}, db.ErrNotFound
			}
			return r, nil
		},
		ListResultsByStatusFunc: func(status string) ([]db.ResultsRow, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			var out []db.ResultsRow
			for _, r := range m.results {
				if r.Status == status {
					out = append(out, r)
				}
			}
			return out, nil
		},

		UpsertAntiGreylistFunc: func(e db.AntiGreylistEntry) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.antigrey[e.RequestID] = e
			return nil
		},
		GetAntiGreylistFunc: func(requestID string) (db.AntiGreylistEntry, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			e, ok := m.antigrey[requestID]
			if !ok {
				return db.AntiGreylistEntry{}, db.ErrNotFound
			}
			return e, nil
		},
		DeleteAntiGreylistFunc: func(requestID string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.antigrey, requestID)
			return nil
		},
		ListRetryReadyFunc: func(now string) ([]db.AntiGreylistEntry, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			cutoff, err := db.TimeParse(now)
			if err != nil || cutoff.IsZero() {
				cutoff = time.Now()
			}
			var out []db.AntiGreylistEntry
			for _, e := range m.antigrey {
				if !e.NextRetryAt.After(cutoff) {
					out = append(out, e)
				}
			}
			return out, nil
		},
		IncrementAntiGreylistAttemptsFunc: func(requestID string, nextRetryAt string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			e, ok := m.antigrey[requestID]
			if !ok {
				return db.ErrNotFound
			}
			e.Attempts++
			if t, err := db.TimeParse(nextRetryAt); err == nil && !t.IsZero() {
				e.NextRetryAt = t
			}
			m.antigrey[requestID] = e
			return nil
		},

		UpsertCatchAllFunc: func(e db.CatchAllCacheEntry) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.catchall[e.Domain] = e
			return nil
		},
		GetCatchAllFunc: func(domain string) (db.CatchAllCacheEntry, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			e, ok := m.catchall[domain]
			if !ok {
				return db.CatchAllCacheEntry{}, db.ErrNotFound
			}
			return e, nil
		},
		CleanCatchAllFunc: func(now string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			cutoff, err := db.TimeParse(now)
			if err != nil || cutoff.IsZero() {
				cutoff = time.Now()
			}
			for k, e := range m.catchall {
				if e.ExpiresAt.Before(cutoff) {
					delete(m.catchall, k)
				}
			}
			return nil
		},

		CloseFunc: func() error { return nil },
	}
	return m
}
