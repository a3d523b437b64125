package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/deliverkit/verifier/config"
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/db/mock"
)

func nullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresDBAndConfig(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected error with no options at all")
	}
	if _, err := New(WithDB(mock.NewMemory())); err == nil {
		t.Fatal("expected error with no config provider")
	}
	if _, err := New(WithConfigProvider(config.NewProvider(config.NewDefaultConfig()))); err == nil {
		t.Fatal("expected error with no db")
	}
}

func TestNew_WiresCollaborators(t *testing.T) {
	store := mock.NewMemory()
	provider := config.NewProvider(config.NewDefaultConfig())

	a, err := New(WithDB(store), WithConfigProvider(provider), WithLogger(nullLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.queue == nil || a.antigrey == nil || a.cache == nil || a.webhook == nil || a.ctrl == nil || a.recov == nil || a.coord == nil {
		t.Fatal("expected every derived collaborator to be wired")
	}
	if a.ID().String() == "" {
		t.Fatal("expected a non-empty run id")
	}
}

func TestMigrate_RejectsNonMigratorBackend(t *testing.T) {
	a, err := New(WithDB(mock.NewMemory()), WithConfigProvider(config.NewProvider(config.NewDefaultConfig())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Migrate(); err == nil {
		t.Fatal("expected mock.Memory (not a migrator) to fail Migrate")
	}
}

func TestEnqueue_AddsToQueue(t *testing.T) {
	store := mock.NewMemory()
	a, err := New(WithDB(store), WithConfigProvider(config.NewProvider(config.NewDefaultConfig())))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := db.Request{RequestID: "r1", Emails: []string{"a@example.com"}, ResponseURL: "https://example.com/hook"}
	if err := a.Enqueue(req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if empty, _ := store.QueueEmpty(); empty {
		t.Fatal("expected the request to land on the queue")
	}
	// Idempotent re-submission of the same request_id is a success, not an error.
	if err := a.Enqueue(req); err != nil {
		t.Fatalf("expected duplicate Enqueue to be idempotent, got: %v", err)
	}
}

func TestRecover_SignalsCoordinatorAndStartStopRoundTrips(t *testing.T) {
	store := mock.NewMemory()
	a, err := New(WithDB(store), WithConfigProvider(config.NewProvider(config.NewDefaultConfig())), WithLogger(nullLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := a.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	select {
	case <-a.RecoveryDone():
	default:
		t.Fatal("expected the recovery coordinator to have signaled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
