package controller

import (
	"time"

	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/verifier"
)

// handleReport is the partial-completion handler: it ignores reports
// whose request_id doesn't match the slot's current assignment, then
// frees the slot once the report has been collated.
func (c *Controller) handleReport(r verifier.Report) {
	if r.WorkerIndex < 0 || r.WorkerIndex >= len(c.slots) {
		return
	}
	s := c.slots[r.WorkerIndex]

	s.mu.Lock()
	var origReq db.Request
	matches := s.request != nil && s.request.RequestID == r.RequestID
	if matches {
		origReq = *s.request
	}
	s.mu.Unlock()

	if !matches {
		c.logger.Warn("controller: stale report ignored", "worker", r.WorkerIndex, "request_id", r.RequestID)
		return
	}

	c.partialCompletion(r, origReq)

	s.mu.Lock()
	s.request = nil
	s.cancel = nil
	wasRestarting := s.restarting
	s.restarting = false
	s.locked = false
	s.mu.Unlock()
	_ = wasRestarting

	if err := c.store.DeleteAssignment(r.WorkerIndex); err != nil {
		c.logger.Error("controller: delete assignment", "worker", r.WorkerIndex, "error", err)
	}
}

// partialCompletion routes a worker report to the deferred-greylist
// branch or the terminal-completion branch.
func (c *Controller) partialCompletion(r verifier.Report, origReq db.Request) {
	now := time.Now()
	anyNonEmpty := len(r.Greylisted) > 0 || len(r.Blacklisted) > 0 || len(r.RecheckRequired) > 0

	row, err := c.store.GetResults(r.RequestID)
	if err == db.ErrNotFound {
		row = db.ResultsRow{RequestID: r.RequestID, TotalEmails: len(origReq.Emails), CreatedAt: now}
	} else if err != nil {
		c.logger.Error("controller: get results", "request_id", r.RequestID, "error", err)
		return
	}

	if anyNonEmpty {
		if len(r.Greylisted) > 0 && !row.GreylistFound {
			row.GreylistFound = true
			row.GreylistFoundAt = now
		}
		if len(r.Blacklisted) > 0 && !row.BlacklistFound {
			row.BlacklistFound = true
			row.BlacklistFoundAt = now
		}
	}

	c.recordOffenders(r.Greylisted, r.Blacklisted)

	if len(r.Greylisted) > 0 {
		c.waitGreylist(r, origReq, &row, now)
	} else {
		c.completeTerminal(r, origReq, &row, now)
	}
}

// waitGreylist is the Assigned->WaitingGreylist transition: the
// request is deferred, not terminal. The merge here keeps the
// archive's verdicts over a fresh duplicate — an archived entry is a
// definitive verdict reached before the deferral, while a second pass
// over the same email may only have seen "greylisted" and must not
// overwrite it.
func (c *Controller) waitGreylist(r verifier.Report, origReq db.Request, row *db.ResultsRow, now time.Time) {
	if err := c.antigrey.AddWithAttempts(r.RequestID, r.Greylisted, origReq.ResponseURL, c.takeRetryAttempts(r.RequestID)); err != nil {
		c.logger.Error("controller: antigreylist add", "request_id", r.RequestID, "error", err)
	}

	existing := c.loadArchive(r.RequestID)
	merged := mergeArchiveWins(existing.Result, r.Results)
	entry := db.ArchiveEntry{
		RequestID:   r.RequestID,
		Emails:      unionEmails(existing.Emails, origReq.Emails),
		Result:      merged,
		ResponseURL: origReq.ResponseURL,
		CreatedAt:   firstNonZero(existing.CreatedAt, now),
	}
	c.storeArchive(entry)

	row.Status = db.StatusProcessing
	row.Verifying = true
	row.UpdatedAt = now
	if row.TotalEmails == 0 {
		row.TotalEmails = len(entry.Emails)
	}
	if err := c.store.UpsertResults(*row); err != nil {
		c.logger.Error("controller: upsert results (wait)", "request_id", r.RequestID, "error", err)
	}
}

// completeTerminal is the Assigned->Completed transition. The terminal
// merge lets the fresh report overwrite a duplicate archived entry:
// this is the final pass, so any archived value for an email this
// report also covers is stale.
func (c *Controller) completeTerminal(r verifier.Report, origReq db.Request, row *db.ResultsRow, now time.Time) {
	c.takeRetryAttempts(r.RequestID)
	if err := c.antigrey.ClearGreylistForRequest(r.RequestID); err != nil {
		c.logger.Error("controller: clear antigreylist", "request_id", r.RequestID, "error", err)
	}

	existing := c.loadArchive(r.RequestID)
	merged := mergeFreshWins(existing.Result, r.Results)

	results := make([]db.VerificationObj, 0, len(merged))
	for _, v := range merged {
		results = append(results, v)
	}

	row.Results = results
	row.Status = db.StatusCompleted
	row.Verifying = false
	row.CompletedEmails = len(results)
	if row.TotalEmails == 0 {
		row.TotalEmails = len(results)
	}
	row.CompletedAt = now
	row.UpdatedAt = now

	if err := c.store.UpsertResults(*row); err != nil {
		c.logger.Error("controller: upsert results (complete)", "request_id", r.RequestID, "error", err)
	}

	c.deliverWebhook(*row, origReq.ResponseURL)

	if err := c.store.DeleteArchive(r.RequestID); err != nil && err != db.ErrNotFound {
		c.logger.Error("controller: delete archive", "request_id", r.RequestID, "error", err)
	}
	c.archiveMu.Lock()
	delete(c.archive, r.RequestID)
	c.archiveMu.Unlock()
}

func (c *Controller) deliverWebhook(row db.ResultsRow, responseURL string) {
	c.webhook.Deliver(row, responseURL, func(sent bool, attempts int) {
		current, err := c.store.GetResults(row.RequestID)
		if err != nil {
			c.logger.Error("controller: reload results for webhook update", "request_id", row.RequestID, "error", err)
			return
		}
		current.WebhookSent = sent
		current.WebhookAttempts = attempts
		current.UpdatedAt = time.Now()
		if err := c.store.UpsertResults(current); err != nil {
			c.logger.Error("controller: persist webhook status", "request_id", row.RequestID, "error", err)
		}
	})
}

// takeRetryAttempts removes and returns the attempt count recorded
// when this request was claimed from the anti-greylist store; zero for
// a request that was never a greylist retry.
func (c *Controller) takeRetryAttempts(requestID string) int {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	attempts := c.retryAttempts[requestID]
	delete(c.retryAttempts, requestID)
	return attempts
}

// loadArchive returns the in-memory mirror entry for requestID,
// falling back to the durable table on a cold cache.
func (c *Controller) loadArchive(requestID string) db.ArchiveEntry {
	c.archiveMu.Lock()
	e, ok := c.archive[requestID]
	c.archiveMu.Unlock()
	if ok {
		return e
	}
	e, err := c.store.GetArchive(requestID)
	if err != nil {
		return db.ArchiveEntry{}
	}
	return e
}

func (c *Controller) storeArchive(e db.ArchiveEntry) {
	c.archiveMu.Lock()
	c.archive[e.RequestID] = e
	c.archiveMu.Unlock()
	if err := c.store.UpsertArchive(e); err != nil {
		c.logger.Error("controller: upsert archive", "request_id", e.RequestID, "error", err)
	}
}

// mergeArchiveWins merges fresh into archive, with archive's entries
// taking precedence on a duplicate email key.
func mergeArchiveWins(archive, fresh map[string]db.VerificationObj) map[string]db.VerificationObj {
	merged := make(map[string]db.VerificationObj, len(archive)+len(fresh))
	for k, v := range fresh {
		merged[k] = v
	}
	for k, v := range archive {
		merged[k] = v
	}
	return merged
}

// mergeFreshWins merges archive into fresh, with fresh's entries
// taking precedence on a duplicate email key.
func mergeFreshWins(archive, fresh map[string]db.VerificationObj) map[string]db.VerificationObj {
	merged := make(map[string]db.VerificationObj, len(archive)+len(fresh))
	for k, v := range archive {
		merged[k] = v
	}
	for k, v := range fresh {
		merged[k] = v
	}
	return merged
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

func firstNonZero(t time.Time, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
