package queue

import (
	"testing"

	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/db/mock"
)

func TestQueue_AddDedup(t *testing.T) {
	var inserted []db.Request
	store := &mock.Db{
		AddRequestFunc: func(req db.Request) error {
			inserted = append(inserted, req)
			return nil
		},
	}
	q := New(store)

	req := db.Request{RequestID: "r1", Emails: []string{"a@example.com"}}
	if err := q.Add(req); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := q.Add(req); err != nil {
		t.Fatalf("Add (dup): %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 store insert, got %d", len(inserted))
	}
	if !q.HasRequestID("r1") {
		t.Fatal("expected HasRequestID true after Add")
	}
}

func TestQueue_AddStoreReportsDuplicate(t *testing.T) {
	store := &mock.Db{
		AddRequestFunc: func(req db.Request) error {
			return db.ErrDuplicateRequest
		},
	}
	q := New(store)

	if err := q.Add(db.Request{RequestID: "r1", Emails: []string{"a@example.com"}}); err != nil {
		t.Fatalf("Add: expected nil error for store-reported duplicate, got %v", err)
	}
	if !q.HasRequestID("r1") {
		t.Fatal("expected dedup index updated on store-reported duplicate")
	}
}

func TestQueue_Done(t *testing.T) {
	var removed string
	store := &mock.Db{
		AddRequestFunc: func(req db.Request) error { return nil },
		RemoveRequestFunc: func(requestID string) error {
			removed = requestID
			return nil
		},
	}
	q := New(store)

	if err := q.Add(db.Request{RequestID: "r1", Emails: []string{"a@example.com"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := q.Done("r1"); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if removed != "r1" {
		t.Fatalf("expected RemoveRequest called with r1, got %q", removed)
	}
	if q.HasRequestID("r1") {
		t.Fatal("expected HasRequestID false after Done")
	}
}

func TestQueue_Load(t *testing.T) {
	store := &mock.Db{
		ListQueuedFunc: func() ([]db.Request, error) {
			return []db.Request{{RequestID: "r1"}, {RequestID: "r2"}}, nil
		},
	}
	q := New(store)
	if err := q.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !q.HasRequestID("r1") || !q.HasRequestID("r2") {
		t.Fatal("expected both loaded request ids present")
	}
}
