// Package mock provides a function-field implementation of db.Db for
// tests: queue/, antigreylist/, catchall/, controller/ and recovery/
// all exercise this instead of a real SQLite backend.
package mock

import (
	"github.com/deliverkit/verifier/db"
)

var _ db.Db = (*Db)(nil)

// Db implements db.Db for testing. Every method backs onto a function
// field; a test that doesn't care about a given call leaves the field
// nil and gets the documented default.
type Db struct {
	AddRequestFunc    func(req db.Request) error
	PeekRequestFunc   func() (db.Request, error)
	RemoveRequestFunc func(requestID string) error
	HasRequestFunc    func(requestID string) (bool, error)
	QueueEmptyFunc    func() (bool, error)
	ListQueuedFunc    func() ([]db.Request, error)

	UpsertAssignmentFunc func(a db.Assignment) error
	DeleteAssignmentFunc func(workerIndex int) error
	GetAssignmentFunc    func(workerIndex int) (db.Assignment, error)
	ListAssignmentsFunc  func() ([]db.Assignment, error)

	UpsertArchiveFunc func(e db.ArchiveEntry) error
	GetArchiveFunc    func(requestID string) (db.ArchiveEntry, error)
	DeleteArchiveFunc func(requestID string) error
	ListArchiveFunc   func() ([]db.ArchiveEntry, error)

	UpsertResultsFunc       func(r db.ResultsRow) error
	GetResultsFunc          func(requestID string) (db.ResultsRow, error)
	ListResultsByStatusFunc func(status string) ([]db.ResultsRow, error)

	UpsertAntiGreylistFunc           func(e db.AntiGreylistEntry) error
	GetAntiGreylistFunc              func(requestID string) (db.AntiGreylistEntry, error)
	DeleteAntiGreylistFunc           func(requestID string) error
	ListRetryReadyFunc               func(now string) ([]db.AntiGreylistEntry, error)
	IncrementAntiGreylistAttemptsFunc func(requestID string, nextRetryAt string) error

	UpsertCatchAllFunc func(e db.CatchAllCacheEntry) error
	GetCatchAllFunc    func(domain string) (db.CatchAllCacheEntry, error)
	CleanCatchAllFunc  func(now string) error

	CloseFunc func() error
}

func (m *Db) AddRequest(req db.Request) error {
	if m.AddRequestFunc != nil {
		return m.AddRequestFunc(req)
	}
	return nil
}

func (m *Db) PeekRequest() (db.Request, error) {
	if m.PeekRequestFunc != nil {
		return m.PeekRequestFunc()
	}
	return db.Request{}, db.ErrQueueEmpty
}

func (m *Db) RemoveRequest(requestID string) error {
	if m.RemoveRequestFunc != nil {
		return m.RemoveRequestFunc(requestID)
	}
	return nil
}

func (m *Db) HasRequest(requestID string) (bool, error) {
	if m.HasRequestFunc != nil {
		return m.HasRequestFunc(requestID)
	}
	return false, nil
}

func (m *Db) QueueEmpty() (bool, error) {
	if m.QueueEmptyFunc != nil {
		return m.QueueEmptyFunc()
	}
	return true, nil
}

func (m *Db) ListQueued() ([]db.Request, error) {
	if m.ListQueuedFunc != nil {
		return m.ListQueuedFunc()
	}
	return nil, nil
}

func (m *Db) UpsertAssignment(a db.Assignment) error {
	if m.UpsertAssignmentFunc != nil {
		return m.UpsertAssignmentFunc(a)
	}
	return nil
}

func (m *Db) DeleteAssignment(workerIndex int) error {
	if m.DeleteAssignmentFunc != nil {
		return m.DeleteAssignmentFunc(workerIndex)
	}
	return nil
}

func (m *Db) GetAssignment(workerIndex int) (db.Assignment, error) {
	if m.GetAssignmentFunc != nil {
		return m.GetAssignmentFunc(workerIndex)
	}
	return db.Assignment{}, db.ErrNotFound
}

func (m *Db) ListAssignments() ([]db.Assignment, error) {
	if m.ListAssignmentsFunc != nil {
		return m.ListAssignmentsFunc()
	}
	return nil, nil
}

func (m *Db) UpsertArchive(e db.ArchiveEntry) error {
	if m.UpsertArchiveFunc != nil {
		return m.UpsertArchiveFunc(e)
	}
	return nil
}

func (m *Db) GetArchive(requestID string) (db.ArchiveEntry, error) {
	if m.GetArchiveFunc != nil {
		return m.GetArchiveFunc(requestID)
	}
	return db.ArchiveEntry{}, db.ErrNotFound
}

func (m *Db) DeleteArchive(requestID string) error {
	if m.DeleteArchiveFunc != nil {
		return m.DeleteArchiveFunc(requestID)
	}
	return nil
}

func (m *Db) ListArchive() ([]db.ArchiveEntry, error) {
	if m.ListArchiveFunc != nil {
		return m.ListArchiveFunc()
	}
	return nil, nil
}

func (m *Db) UpsertResults(r db.ResultsRow) error {
	if m.UpsertResultsFunc != nil {
		return m.UpsertResultsFunc(r)
	}
	return nil
}

func (m *Db) GetResults(requestID string) (db.ResultsRow, error) {
	if m.GetResultsFunc != nil {
		return m.GetResultsFunc(requestID)
	}
	return db.ResultsRow{}, db.ErrNotFound
}

func (m *Db) ListResultsByStatus(status string) ([]db.ResultsRow, error) {
	if m.ListResultsByStatusFunc != nil {
		return m.ListResultsByStatusFunc(status)
	}
	return nil, nil
}

func (m *Db) UpsertAntiGreylist(e db.AntiGreylistEntry) error {
	if m.UpsertAntiGreylistFunc != nil {
		return m.UpsertAntiGreylistFunc(e)
	}
	return nil
}

func (m *Db) GetAntiGreylist(requestID string) (db.AntiGreylistEntry, error) {
	if m.GetAntiGreylistFunc != nil {
		return m.GetAntiGreylistFunc(requestID)
	}
	return db.AntiGreylistEntry{}, db.ErrNotFound
}

func (m *Db) DeleteAntiGreylist(requestID string) error {
	if m.DeleteAntiGreylistFunc != nil {
		return m.DeleteAntiGreylistFunc(requestID)
	}
	return nil
}

func (m *Db) ListRetryReady(now string) ([]db.AntiGreylistEntry, error) {
	if m.ListRetryReadyFunc != nil {
		return m.ListRetryReadyFunc(now)
	}
	return nil, nil
}

func (m *Db) IncrementAntiGreylistAttempts(requestID string, nextRetryAt string) error {
	if m.IncrementAntiGreylistAttemptsFunc != nil {
		return m.IncrementAntiGreylistAttemptsFunc(requestID, nextRetryAt)
	}
	return nil
}

func (m *Db) UpsertCatchAll(e db.CatchAllCacheEntry) error {
	if m.UpsertCatchAllFunc != nil {
		return m.UpsertCatchAllFunc(e)
	}
	return nil
}

func (m *Db) GetCatchAll(domain string) (db.CatchAllCacheEntry, error) {
	if m.GetCatchAllFunc != nil {
		return m.GetCatchAllFunc(domain)
	}
	return db.CatchAllCacheEntry{}, db.ErrNotFound
}

func (m *Db) CleanCatchAll(now string) error {
	if m.CleanCatchAllFunc != nil {
		return m.CleanCatchAllFunc(now)
	}
	return nil
}

func (m *Db) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
