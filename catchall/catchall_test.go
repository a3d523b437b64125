package catchall

import (
	"testing"
	"time"

	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/db/mock"
)

func TestCache_UpsertPersistsVerdict(t *testing.T) {
	var stored db.CatchAllCacheEntry
	store := &mock.Db{
		UpsertCatchAllFunc: func(e db.CatchAllCacheEntry) error {
			stored = e
			return nil
		},
	}
	c, err := New(store, Config{CacheLevel: "small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Upsert("example.com", true, 95); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if stored.Domain != "example.com" || !stored.CatchAll || stored.Confidence != 95 {
		t.Fatalf("unexpected stored entry: %+v", stored)
	}

	// A verdict recorded moments ago is deliberately not usable yet: the
	// shortcut only trusts entries at least five minutes old.
	if _, ok := c.Check("example.com"); ok {
		t.Fatal("expected a fresh verdict to be held back by the min-age gate")
	}
}

func TestCache_CheckUsableAfterMinAge(t *testing.T) {
	store := &mock.Db{
		GetCatchAllFunc: func(domain string) (db.CatchAllCacheEntry, error) {
			return db.CatchAllCacheEntry{
				Domain: domain, CatchAll: true, Confidence: 95,
				ExpiresAt: time.Now().Add(time.Hour),
				CreatedAt: time.Now().Add(-10 * time.Minute),
			}, nil
		},
	}
	c, err := New(store, Config{CacheLevel: "small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, ok := c.Check("example.com")
	if !ok {
		t.Fatal("expected an aged, confident, unexpired verdict to be usable")
	}
	if !v.CatchAll || v.Confidence != 95 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestCache_CheckBelowMinConfidenceUnusable(t *testing.T) {
	store := &mock.Db{}
	c, err := New(store, Config{CacheLevel: "small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Upsert("low-conf.com", true, 50); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, ok := c.Check("low-conf.com"); ok {
		t.Fatal("expected low-confidence verdict to be unusable")
	}
}

func TestCache_CheckFallsBackToStore(t *testing.T) {
	store := &mock.Db{
		GetCatchAllFunc: func(domain string) (db.CatchAllCacheEntry, error) {
			return db.CatchAllCacheEntry{
				Domain: domain, CatchAll: false, Confidence: 90,
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
	c, err := New(store, Config{CacheLevel: "small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, ok := c.Check("cold.com")
	if !ok {
		t.Fatal("expected store fallback to produce a usable verdict")
	}
	if v.CatchAll {
		t.Fatal("expected catch_all=false from store entry")
	}
}

func TestCache_CheckExpiredUnusable(t *testing.T) {
	store := &mock.Db{
		GetCatchAllFunc: func(domain string) (db.CatchAllCacheEntry, error) {
			return db.CatchAllCacheEntry{
				Domain: domain, CatchAll: true, Confidence: 95,
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		},
	}
	c, err := New(store, Config{CacheLevel: "small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Check("expired.com"); ok {
		t.Fatal("expected expired verdict to be unusable")
	}
}
