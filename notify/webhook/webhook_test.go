package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deliverkit/verifier/db"
)

func nullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliver_NoResponseURL(t *testing.T) {
	t.Parallel()

	n := New(DefaultConfig(), nullLogger())
	done := make(chan struct {
		sent     bool
		attempts int
	}, 1)
	n.Deliver(db.ResultsRow{RequestID: "r1"}, "", func(sent bool, attempts int) {
		done <- struct {
			sent     bool
			attempts int
		}{sent, attempts}
	})

	select {
	case got := <-done:
		if !got.sent || got.attempts != 0 {
			t.Errorf("got sent=%v attempts=%d, want sent=true attempts=0", got.sent, got.attempts)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for done callback")
	}
}

func TestDeliver_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	var received payload
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{MaxAttempts: 3, Timeout: 2 * time.Second}, nullLogger())
	done := make(chan bool, 1)
	row := db.ResultsRow{RequestID: "r1", TotalEmails: 2, CompletedEmails: 2}
	n.Deliver(row, srv.URL, func(sent bool, attempts int) {
		if !sent || attempts != 1 {
			t.Errorf("sent=%v attempts=%d, want true/1", sent, attempts)
		}
		done <- true
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if received.RequestID != "r1" || received.Status != db.StatusCompleted {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestDeliver_RetriesThenFails(t *testing.T) {
	t.Parallel()

	var count int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Config{MaxAttempts: 2, Timeout: time.Second}, nullLogger())
	done := make(chan bool, 1)
	n.Deliver(db.ResultsRow{RequestID: "r2"}, srv.URL, func(sent bool, attempts int) {
		if sent || attempts != 2 {
			t.Errorf("sent=%v attempts=%d, want false/2", sent, attempts)
		}
		done <- true
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("server received %d requests, want 2", count)
	}
}
