// Package recovery reconciles durable state (archive, results, queue,
// assignment, anti-greylist) at boot, before the Controller resumes
// normal dispatch, so that a crash mid-flight never strands a request
// with no live owner.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deliverkit/verifier/antigreylist"
	"github.com/deliverkit/verifier/controller"
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/notify"
	"github.com/deliverkit/verifier/notify/webhook"
	"github.com/deliverkit/verifier/queue"
)

// Coordinator exposes the "recovery complete" signal (App.RecoveryDone
// hands out its channel). Run fires it even when it returns an error,
// so a waiter never blocks behind a failed recovery pass.
type Coordinator struct {
	done chan struct{}
	once sync.Once
}

// NewCoordinator returns a Coordinator whose signal has not yet fired.
func NewCoordinator() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Signal fires the coordination signal. Safe to call more than once or
// concurrently; only the first call has effect.
func (c *Coordinator) Signal() {
	c.once.Do(func() { close(c.done) })
}

// Done returns the channel that closes once recovery has finished,
// successfully or not.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Config bundles Recovery's tunables.
type Config struct {
	// LookbackWindow bounds how far back a candidate's created_at may
	// be and still be eligible for recovery (default 7 days).
	LookbackWindow time.Duration
}

// DefaultConfig looks back 7 days, matching the archive sweep's orphan
// TTL so recovery never considers rows the sweep is about to drop.
func DefaultConfig() Config {
	return Config{LookbackWindow: 7 * 24 * time.Hour}
}

// Recovery reconciles durable state at boot. It is run once, before
// the Controller's dispatch loop starts.
type Recovery struct {
	cfg      Config
	store    db.Db
	queue    *queue.Queue
	antigrey *antigreylist.Store
	ctrl     *controller.Controller
	webhook  *webhook.Notifier
	alerter  notify.Notifier
	logger   *slog.Logger
}

// New constructs a Recovery. alerter may be notify.NewNilNotifier() if
// operational alerting is not configured.
func New(cfg Config, store db.Db, q *queue.Queue, ag *antigreylist.Store, ctrl *controller.Controller, wh *webhook.Notifier, alerter notify.Notifier, logger *slog.Logger) *Recovery {
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 7 * 24 * time.Hour
	}
	return &Recovery{cfg: cfg, store: store, queue: q, antigrey: ag, ctrl: ctrl, webhook: wh, alerter: alerter, logger: logger}
}

// Outcome categorizes what a single orphaned request was routed to by
// Run's decision tree.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRequeued  Outcome = "requeued"
	OutcomeWaiting   Outcome = "waiting_greylist"
	OutcomeFailed    Outcome = "failed"
)

// Decision records what happened to one orphaned request_id, kept for
// tests and operational-alerting summaries.
type Decision struct {
	RequestID string
	Outcome   Outcome
	Reason    string
}

// Summary is Run's return value: what every orphan was decided to be.
type Summary struct {
	Decisions []Decision
}

func (s Summary) countOutcome(o Outcome) int {
	n := 0
	for _, d := range s.Decisions {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// Run performs the full startup reconciliation and always fires
// coord's signal before returning, even on error, so
// Queue/Anti-Greylist consumers never wait forever.
func (r *Recovery) Run(coord *Coordinator) (Summary, error) {
	defer coord.Signal()

	summary, err := r.run()
	if err != nil {
		r.logger.Error("recovery: run failed, proceeding with degraded state", "error", err)
		r.alert(fmt.Sprintf("startup recovery failed: %v", err))
		return summary, err
	}

	if failed := summary.countOutcome(OutcomeFailed); failed > 0 {
		r.alert(fmt.Sprintf("startup recovery routed %d request(s) to failed", failed))
	}

	return summary, nil
}

func (r *Recovery) alert(msg string) {
	if r.alerter == nil {
		return
	}
	_ = r.alerter.Send(context.Background(), notify.Notification{
		Timestamp: time.Now(),
		Type:      notify.Alarm,
		Source:    "recovery",
		Message:   msg,
	})
}

// run is the reconciliation pass itself; the completion signal is
// handled by Run's deferred coord.Signal().
func (r *Recovery) run() (Summary, error) {
	// Restore the in-memory archive mirror from the archive table.
	archiveEntries, err := r.store.ListArchive()
	if err != nil {
		return Summary{}, fmt.Errorf("recovery: list archive: %w", err)
	}
	r.ctrl.SeedArchive(archiveEntries)
	archiveByID := make(map[string]db.ArchiveEntry, len(archiveEntries))
	for _, e := range archiveEntries {
		archiveByID[e.RequestID] = e
	}

	// Rebuild the Queue's in-memory dedup index.
	if err := r.queue.Load(); err != nil {
		return Summary{}, fmt.Errorf("recovery: queue load: %w", err)
	}

	now := time.Now()
	cutoff := now.Add(-r.cfg.LookbackWindow)

	// Candidates: Results rows still queued/processing within the
	// window, plus Archive rows with no Results row at all.
	candidates := make(map[string]struct{})

	for _, status := range []string{db.StatusQueued, db.StatusProcessing} {
		rows, err := r.store.ListResultsByStatus(status)
		if err != nil {
			return Summary{}, fmt.Errorf("recovery: list results %s: %w", status, err)
		}
		for _, row := range rows {
			if row.CreatedAt.IsZero() || row.CreatedAt.After(cutoff) {
				candidates[row.RequestID] = struct{}{}
			}
		}
	}
	for _, e := range archiveEntries {
		if _, err := r.store.GetResults(e.RequestID); err == db.ErrNotFound {
			if e.CreatedAt.IsZero() || e.CreatedAt.After(cutoff) {
				candidates[e.RequestID] = struct{}{}
			}
		} else if err != nil {
			return Summary{}, fmt.Errorf("recovery: get results %s: %w", e.RequestID, err)
		}
	}

	// Exclude anything with a live owner.
	assignments, err := r.store.ListAssignments()
	if err != nil {
		return Summary{}, fmt.Errorf("recovery: list assignments: %w", err)
	}
	assignedIDs := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		assignedIDs[a.Request.RequestID] = struct{}{}
	}

	var summary Summary
	for requestID := range candidates {
		if r.queue.HasRequestID(requestID) {
			continue
		}
		if _, ok := assignedIDs[requestID]; ok {
			continue
		}
		if active, err := r.antigrey.Exists(requestID); err != nil {
			return summary, fmt.Errorf("recovery: antigreylist exists %s: %w", requestID, err)
		} else if active {
			continue
		}

		d := r.resolveOrphan(requestID, archiveByID[requestID], assignments)
		summary.Decisions = append(summary.Decisions, d)
	}

	return summary, nil
}

// resolveOrphan applies the decision tree for one true orphan:
// complete from the archive, re-queue remaining work, leave a pure
// greylist wait alone, or fail.
func (r *Recovery) resolveOrphan(requestID string, archive db.ArchiveEntry, assignments []db.Assignment) Decision {
	// Clear any stale assignment row referencing this request (a
	// defensive no-op in the common case since assigned ids were
	// already excluded from the candidate set).
	for _, a := range assignments {
		if a.Request.RequestID == requestID {
			if err := r.store.DeleteAssignment(a.WorkerIndex); err != nil {
				r.logger.Error("recovery: clear stale assignment", "request_id", requestID, "error", err)
			}
		}
	}

	hasArchive := archive.RequestID != ""
	// Without an archive row, there is no durable record of the
	// request's original email list: the Results row alone only ever
	// stores a count (TotalEmails), never the addresses. This is
	// a data-invariant violation (required archive fields missing), so
	// it fails reconciliation rather than guessing at remaining work.
	if !hasArchive {
		return r.fail(requestID, "no archive row: original email list is unrecoverable")
	}
	if !validArchive(archive) {
		return r.fail(requestID, "archive data failed invariant validation")
	}

	greylisted := r.greylistedEmails(requestID)
	remaining := remainingEmails(archive.Emails, archive.Result, greylisted)

	switch {
	case len(remaining) == 0 && len(greylisted) == 0:
		return r.complete(requestID, archive)
	case len(remaining) != 0:
		return r.requeue(requestID, archive.Emails, archive.ResponseURL)
	case len(greylisted) != 0:
		return Decision{RequestID: requestID, Outcome: OutcomeWaiting, Reason: "greylisted emails pending anti-greylist retry"}
	default:
		return r.fail(requestID, "no remaining work, no greylist, and no archived result to complete from")
	}
}

// validArchive checks an archive row carries everything a recovery
// decision needs: required fields present, emails non-empty, result
// map non-nil.
func validArchive(e db.ArchiveEntry) bool {
	if e.RequestID == "" {
		return false
	}
	if len(e.Emails) == 0 {
		return false
	}
	if e.Result == nil {
		return false
	}
	return true
}

func (r *Recovery) greylistedEmails(requestID string) map[string]struct{} {
	out := map[string]struct{}{}
	entry, err := r.store.GetAntiGreylist(requestID)
	if err != nil {
		return out
	}
	for _, e := range entry.Emails {
		out[e] = struct{}{}
	}
	return out
}

// remainingEmails computes all_emails - verified_in_archive -
// greylisted_in_antigreylist.
func remainingEmails(all []string, verified map[string]db.VerificationObj, greylisted map[string]struct{}) []string {
	var out []string
	for _, e := range all {
		if _, done := verified[e]; done {
			continue
		}
		if _, wait := greylisted[e]; wait {
			continue
		}
		out = append(out, e)
	}
	return out
}

// complete persists the archived partial as the final result, mirrors
// it to the external results view, sends the webhook if not already
// sent, and deletes the archive row.
func (r *Recovery) complete(requestID string, archive db.ArchiveEntry) Decision {
	now := time.Now()
	row, err := r.store.GetResults(requestID)
	if err != nil && err != db.ErrNotFound {
		r.logger.Error("recovery: get results for complete", "request_id", requestID, "error", err)
		return r.fail(requestID, "could not load results row to complete")
	}

	results := make([]db.VerificationObj, 0, len(archive.Result))
	for _, v := range archive.Result {
		results = append(results, v)
	}
	row.RequestID = requestID
	row.Results = results
	row.CompletedEmails = len(results)
	if row.TotalEmails == 0 {
		row.TotalEmails = len(archive.Emails)
	}
	row.Status = db.StatusCompleted
	row.Verifying = false
	row.CompletedAt = now
	row.UpdatedAt = now

	if err := r.store.UpsertResults(row); err != nil {
		r.logger.Error("recovery: upsert results on complete", "request_id", requestID, "error", err)
		return r.fail(requestID, "failed to persist completed results")
	}

	if !row.WebhookSent && row.WebhookAttempts < 5 {
		r.webhook.Deliver(row, archive.ResponseURL, func(sent bool, attempts int) {
			current, err := r.store.GetResults(requestID)
			if err != nil {
				r.logger.Error("recovery: reload results for webhook update", "request_id", requestID, "error", err)
				return
			}
			current.WebhookSent = sent
			current.WebhookAttempts = attempts
			current.UpdatedAt = time.Now()
			if err := r.store.UpsertResults(current); err != nil {
				r.logger.Error("recovery: persist webhook status", "request_id", requestID, "error", err)
			}
		})
	}

	if err := r.store.DeleteArchive(requestID); err != nil && err != db.ErrNotFound {
		r.logger.Error("recovery: delete archive on complete", "request_id", requestID, "error", err)
	}

	return Decision{RequestID: requestID, Outcome: OutcomeCompleted, Reason: "no remaining work, no greylist"}
}

// requeue re-inserts the request into the Queue (idempotent by
// request_id) and marks its results row queued.
func (r *Recovery) requeue(requestID string, emails []string, responseURL string) Decision {
	if err := r.queue.Add(db.Request{RequestID: requestID, Emails: emails, ResponseURL: responseURL}); err != nil {
		r.logger.Error("recovery: re-queue add", "request_id", requestID, "error", err)
		return r.fail(requestID, "failed to re-enqueue")
	}

	row, err := r.store.GetResults(requestID)
	now := time.Now()
	if err == db.ErrNotFound {
		row = db.ResultsRow{RequestID: requestID, TotalEmails: len(emails), CreatedAt: now}
	} else if err != nil {
		r.logger.Error("recovery: get results for requeue", "request_id", requestID, "error", err)
	}
	row.Status = db.StatusQueued
	row.Verifying = false
	row.UpdatedAt = now
	if err := r.store.UpsertResults(row); err != nil {
		r.logger.Error("recovery: upsert results on requeue", "request_id", requestID, "error", err)
	}

	return Decision{RequestID: requestID, Outcome: OutcomeRequeued, Reason: "emails remain unverified"}
}

func (r *Recovery) fail(requestID string, reason string) Decision {
	row, err := r.store.GetResults(requestID)
	now := time.Now()
	if err == db.ErrNotFound {
		row = db.ResultsRow{RequestID: requestID, CreatedAt: now}
	} else if err != nil {
		r.logger.Error("recovery: get results for fail", "request_id", requestID, "error", err)
	}
	row.Status = db.StatusFailed
	row.Verifying = false
	row.UpdatedAt = now
	if err := r.store.UpsertResults(row); err != nil {
		r.logger.Error("recovery: upsert results on fail", "request_id", requestID, "error", err)
	}
	r.logger.Warn("recovery: request failed during startup reconciliation", "request_id", requestID, "reason", reason)
	return Decision{RequestID: requestID, Outcome: OutcomeFailed, Reason: reason}
}
