package controller

import (
	"context"
	"time"

	"github.com/deliverkit/verifier/db"
)

// assignFromQueue fills free worker slots from the queue: until no
// slot is free or the queue is empty, claim the head request and
// assign it.
func (c *Controller) assignFromQueue() {
	for {
		s := c.freeSlot()
		if s == nil {
			return
		}
		empty, err := c.queue.IsEmpty()
		if err != nil {
			c.logger.Error("controller: queue isEmpty", "error", err)
			return
		}
		if empty {
			return
		}
		req, err := c.queue.Current()
		if err != nil {
			if err == db.ErrQueueEmpty {
				return
			}
			c.logger.Error("controller: queue current", "error", err)
			return
		}

		c.assignToSlot(s, req)

		if err := c.queue.Done(req.RequestID); err != nil {
			c.logger.Error("controller: queue done", "request_id", req.RequestID, "error", err)
		}
		c.markProcessing(req)
	}
}

// assignRetryReady assigns entries whose anti-greylist backoff has
// elapsed under the same policy as fresh queue work. A request must
// never be owned by the Anti-Greylist store and a worker slot at the
// same time, so the entry is cleared as soon as it is assigned — the
// partial-completion handler re-inserts it if the retry greylists
// again (mirroring how assignFromQueue calls queue.Done after
// assignToSlot).
func (c *Controller) assignRetryReady() {
	ready, err := c.antigrey.TryGreylisted()
	if err != nil {
		c.logger.Error("controller: try greylisted", "error", err)
		return
	}
	for _, e := range ready {
		s := c.freeSlot()
		if s == nil {
			return
		}
		req := db.Request{RequestID: e.RequestID, Emails: e.Emails, ResponseURL: e.ResponseURL}
		c.assignToSlot(s, req)
		c.retryMu.Lock()
		c.retryAttempts[e.RequestID] = e.Attempts
		c.retryMu.Unlock()
		if err := c.antigrey.ClearGreylistForRequest(e.RequestID); err != nil {
			c.logger.Error("controller: clear antigreylist on assign", "request_id", e.RequestID, "error", err)
		}
	}
}

// freeSlot returns the first idle, unlocked slot, or nil if none.
func (c *Controller) freeSlot() *slot {
	for _, s := range c.slots {
		s.mu.Lock()
		if s.request == nil && !s.locked {
			s.mu.Unlock()
			return s
		}
		s.mu.Unlock()
	}
	return nil
}

// assignToSlot persists the assignment and dispatches req to s's
// worker in a background goroutine.
func (c *Controller) assignToSlot(s *slot, req db.Request) {
	ctx, cancel := context.WithCancel(c.ctx)
	now := time.Now()

	s.mu.Lock()
	s.request = &req
	s.lastPing = now
	s.cancel = cancel
	s.mu.Unlock()

	if err := c.store.UpsertAssignment(db.Assignment{WorkerIndex: s.index, Request: req, CreatedAt: now}); err != nil {
		c.logger.Error("controller: upsert assignment", "request_id", req.RequestID, "error", err)
	}

	c.workWg.Add(1)
	go func() {
		defer c.workWg.Done()
		s.worker.Process(ctx, req)
	}()
}

// markProcessing transitions a freshly-dequeued request's external
// results row to status=processing, verifying=true, creating it if
// this is the first time it has been assigned.
func (c *Controller) markProcessing(req db.Request) {
	row, err := c.store.GetResults(req.RequestID)
	now := time.Now()
	if err == db.ErrNotFound {
		row = db.ResultsRow{
			RequestID:   req.RequestID,
			TotalEmails: len(req.Emails),
			CreatedAt:   now,
		}
	} else if err != nil {
		c.logger.Error("controller: get results", "request_id", req.RequestID, "error", err)
		return
	}
	row.Status = db.StatusProcessing
	row.Verifying = true
	row.UpdatedAt = now
	if row.TotalEmails == 0 {
		row.TotalEmails = len(req.Emails)
	}
	if err := c.store.UpsertResults(row); err != nil {
		c.logger.Error("controller: mark processing", "request_id", req.RequestID, "error", err)
	}
}
