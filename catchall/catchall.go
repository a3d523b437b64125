// Package catchall memoizes per-domain catch-all verdicts so the SMTP
// probe can skip redundant random-local-part RCPTs against domains it
// has already classified.
package catchall

import (
	"fmt"
	"time"

	"github.com/deliverkit/verifier/cache"
	"github.com/deliverkit/verifier/cache/ristretto"
	"github.com/deliverkit/verifier/db"
)

// Verdict is the in-memory shape mirrored from db.CatchAllCacheEntry,
// kept separate so the hot-path cache never has to round-trip through
// string timestamps.
type Verdict struct {
	CatchAll   bool
	Confidence int
	TestCount  int
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Config bundles the cache's tunables. Zero values fall back to the
// package defaults below.
type Config struct {
	CacheLevel string
	// TTL is how long a fresh verdict is cached for.
	TTL time.Duration
	// MinAge is the shortest time a verdict must have existed before
	// the probe's shortcut is allowed to trust it; very fresh entries
	// are too volatile to skip a live probe over.
	MinAge time.Duration
	// MinConfidence is the lowest confidence the shortcut accepts.
	MinConfidence int
	// CleanupInterval is how often expired rows are swept from the
	// durable table.
	CleanupInterval time.Duration
}

const (
	defaultTTL             = 24 * time.Hour
	defaultMinAge          = 5 * time.Minute
	defaultMinConfidence   = 70
	defaultCleanupInterval = 15 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.MinAge <= 0 {
		c.MinAge = defaultMinAge
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Cache is the durable per-domain catch-all table fronted by a
// Ristretto hot-path mirror, so a busy domain's verdict is read
// without touching SQLite on every probe.
type Cache struct {
	cfg Config
	db  db.Db
	hot cache.Cache[string, Verdict]
}

func New(store db.Db, cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	hot, err := ristretto.New[Verdict](cfg.CacheLevel)
	if err != nil {
		return nil, fmt.Errorf("catchall: init hot cache: %w", err)
	}
	return &Cache{cfg: cfg, db: store, hot: hot}, nil
}

// Upsert records a fresh test result for domain, merging it with any
// existing entry: a higher-confidence new result replaces the stored
// one outright; otherwise the two confidences are averaged and the
// stored catch_all boolean is kept, since a result that didn't clear
// the replace threshold shouldn't flip the domain's classification
// either. test_count always accumulates, and the TTL is reset so a
// frequently-retested domain never goes stale.
func (c *Cache) Upsert(domain string, catchAll bool, confidence int) error {
	now := time.Now()
	entry := db.CatchAllCacheEntry{
		Domain:     domain,
		CatchAll:   catchAll,
		Confidence: confidence,
		TestCount:  1,
		ExpiresAt:  now.Add(c.cfg.TTL),
		CreatedAt:  now,
	}

	if existing, err := c.db.GetCatchAll(domain); err == nil {
		entry.TestCount = existing.TestCount + 1
		if confidence <= existing.Confidence {
			entry.CatchAll = existing.CatchAll
			entry.Confidence = (existing.Confidence + confidence) / 2
		}
	}

	if err := c.db.UpsertCatchAll(entry); err != nil {
		return fmt.Errorf("catchall: upsert %s: %w", domain, err)
	}
	v := Verdict{
		CatchAll:   entry.CatchAll,
		Confidence: entry.Confidence,
		TestCount:  entry.TestCount,
		ExpiresAt:  entry.ExpiresAt,
		CreatedAt:  entry.CreatedAt,
	}
	c.hot.SetWithTTL(domain, v, 1, c.cfg.TTL)
	return nil
}

// Check returns the cached verdict for domain if one exists, is not
// expired, is old enough, and meets the minimum confidence the SMTP
// probe's shortcut requires. The second return value is false when no
// usable verdict exists.
func (c *Cache) Check(domain string) (Verdict, bool) {
	if v, ok := c.hot.Get(domain); ok {
		if c.usable(v) {
			return v, true
		}
		return Verdict{}, false
	}

	entry, err := c.db.GetCatchAll(domain)
	if err != nil {
		return Verdict{}, false
	}
	v := Verdict{
		CatchAll:   entry.CatchAll,
		Confidence: entry.Confidence,
		TestCount:  entry.TestCount,
		ExpiresAt:  entry.ExpiresAt,
		CreatedAt:  entry.CreatedAt,
	}
	if remaining := time.Until(v.ExpiresAt); remaining > 0 {
		c.hot.SetWithTTL(domain, v, 1, remaining)
	}
	if !c.usable(v) {
		return Verdict{}, false
	}
	return v, true
}

func (c *Cache) usable(v Verdict) bool {
	if v.Confidence < c.cfg.MinConfidence {
		return false
	}
	if time.Now().After(v.ExpiresAt) {
		return false
	}
	if time.Since(v.CreatedAt) < c.cfg.MinAge {
		return false
	}
	return true
}

// CleanupInterval returns how often Clean should run, so the
// composition root can wire the sweep ticker without duplicating the
// configured value.
func (c *Cache) CleanupInterval() time.Duration {
	return c.cfg.CleanupInterval
}

// Clean deletes expired rows from the durable table. The hot-path
// mirror relies on its own per-entry TTL and needs no explicit sweep.
func (c *Cache) Clean() error {
	return c.db.CleanCatchAll(db.TimeFormat(time.Now()))
}
