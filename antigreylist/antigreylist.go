// Package antigreylist holds emails deferred by a greylisting mail
// server and surfaces them again once their backoff window elapses.
package antigreylist

import (
	"fmt"
	"time"

	"github.com/deliverkit/verifier/db"
)

// Config bundles the retry policy. Zero values fall back to the
// package defaults below.
type Config struct {
	// InitialBackoff is the smallest retry window after a first
	// deferral. Greylisting windows in the wild run 5-15 minutes, so
	// anything shorter just burns a probe against a server that will
	// defer again.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential backoff so a chronically
	// greylisting host doesn't push a request's retry out for days.
	MaxBackoff time.Duration
	// MaxAttempts bounds the probe passes for a request, the first one
	// included: after MaxAttempts-1 retries the entry is dropped.
	MaxAttempts int
}

const (
	defaultInitialBackoff = 5 * time.Minute
	defaultMaxBackoff     = 4 * time.Hour
	defaultMaxAttempts    = 10
)

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// Store is the durable deferred-retry store for greylisted emails,
// keyed by request_id.
type Store struct {
	cfg Config
	db  db.Db
}

func New(store db.Db, cfg Config) *Store {
	return &Store{cfg: cfg.withDefaults(), db: store}
}

// backoff returns min(InitialBackoff * 2^attempts, MaxBackoff).
func (s *Store) backoff(attempts int) time.Duration {
	d := s.cfg.InitialBackoff << uint(attempts)
	if d > s.cfg.MaxBackoff || d <= 0 {
		return s.cfg.MaxBackoff
	}
	return d
}

// Add upserts a deferred request. On an existing entry the email list
// is unioned and next_retry_at is recomputed from the current attempt
// count.
func (s *Store) Add(requestID string, emails []string, responseURL string) error {
	return s.AddWithAttempts(requestID, emails, responseURL, 0)
}

// AddWithAttempts is Add with an explicit floor on the attempt count.
// The controller clears an entry when it claims it for a retry pass,
// so a retry that greylists again must carry its prior attempt count
// back in — otherwise the escalating backoff and the MaxAttempts
// cutoff would reset on every round-trip through a worker.
func (s *Store) AddWithAttempts(requestID string, emails []string, responseURL string, attempts int) error {
	existing, err := s.db.GetAntiGreylist(requestID)
	merged := emails
	if err == nil {
		if existing.Attempts > attempts {
			attempts = existing.Attempts
		}
		merged = unionEmails(existing.Emails, emails)
	} else if err != db.ErrNotFound {
		return fmt.Errorf("antigreylist: add: %w", err)
	}

	entry := db.AntiGreylistEntry{
		RequestID:   requestID,
		Emails:      merged,
		ResponseURL: responseURL,
		Attempts:    attempts,
		NextRetryAt: time.Now().Add(s.backoff(attempts)),
	}
	return s.db.UpsertAntiGreylist(entry)
}

// Exists reports whether request_id currently has a deferred entry.
func (s *Store) Exists(requestID string) (bool, error) {
	_, err := s.db.GetAntiGreylist(requestID)
	if err == db.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// CheckGreylist reports whether a greylist record is currently active
// for request_id. Alias of Exists, kept distinct because the
// controller's partial-completion handler and the recovery scan read
// the same fact for different reasons.
func (s *Store) CheckGreylist(requestID string) (bool, error) {
	return s.Exists(requestID)
}

// TryGreylisted returns every entry whose retry window has elapsed and
// increments each entry's attempt counter, applying the next backoff.
// Entries that have exhausted MaxAttempts are deleted and left out of
// the returned list; this store does not finalize their archived
// partial or results row.
func (s *Store) TryGreylisted() ([]db.AntiGreylistEntry, error) {
	ready, err := s.db.ListRetryReady(db.TimeFormat(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("antigreylist: try greylisted: %w", err)
	}

	var out []db.AntiGreylistEntry
	for _, e := range ready {
		if e.Attempts+1 >= s.cfg.MaxAttempts {
			if err := s.db.DeleteAntiGreylist(e.RequestID); err != nil {
				return nil, fmt.Errorf("antigreylist: exhaust %s: %w", e.RequestID, err)
			}
			continue
		}
		next := time.Now().Add(s.backoff(e.Attempts + 1))
		if err := s.db.IncrementAntiGreylistAttempts(e.RequestID, db.TimeFormat(next)); err != nil {
			return nil, fmt.Errorf("antigreylist: increment %s: %w", e.RequestID, err)
		}
		e.Attempts++
		e.NextRetryAt = next
		out = append(out, e)
	}
	return out, nil
}

// ClearGreylistForRequest removes any deferred entry for request_id.
func (s *Store) ClearGreylistForRequest(requestID string) error {
	return s.db.DeleteAntiGreylist(requestID)
}

func unionEmails(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, e := range list {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
