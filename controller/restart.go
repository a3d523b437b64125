package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/deliverkit/verifier/notify"
	"github.com/deliverkit/verifier/verifier"
)

// wedgeRestartAlertCount is how many watchdog-forced restarts within
// wedgeRestartWindow trigger an operational alert for a slot.
const (
	wedgeRestartAlertCount = 3
	wedgeRestartWindow     = time.Hour
)

// checkRestarts recycles aged workers: an idle, unlocked slot past its
// restart_at age gets a replacement worker and a fresh timer, bounding
// resource drift in long-lived workers.
func (c *Controller) checkRestarts(now time.Time) {
	for _, s := range c.slots {
		s.mu.Lock()
		idle := s.request == nil
		due := !s.restartAt.IsZero() && !now.Before(s.restartAt)
		if idle && !s.locked && due {
			s.restarting = true
			s.locked = true
			s.worker = verifier.New(s.index, c.workerCfg, c.cache, c.msgCh)
			s.restartAt = now.Add(c.cfg.RestartAfter)
			s.restarting = false
			s.locked = false
		}
		s.mu.Unlock()
	}
}

// checkWatchdog detects a worker that has stopped heartbeating while
// still assigned and replaces it without losing the assignment: the
// slot keeps its request and the replacement worker re-runs it.
func (c *Controller) checkWatchdog(now time.Time) {
	threshold := time.Duration(float64(c.cfg.PingFreq) * c.cfg.WatchdogMultiplier)
	if threshold <= 0 {
		return
	}
	for _, s := range c.slots {
		s.mu.Lock()
		assigned := s.request != nil
		wedged := assigned && !s.locked && now.Sub(s.lastPing) > threshold
		if !wedged {
			s.mu.Unlock()
			continue
		}

		req := *s.request
		if s.cancel != nil {
			s.cancel()
		}
		s.worker = verifier.New(s.index, c.workerCfg, c.cache, c.msgCh)
		ctx, cancel := context.WithCancel(c.ctx)
		s.cancel = cancel
		s.lastPing = now
		recent := s.recordWedgeRestart(now)
		s.mu.Unlock()

		c.logger.Warn("controller: watchdog restart", "worker", s.index, "request_id", req.RequestID)
		if recent == wedgeRestartAlertCount {
			c.alertRestartBurst(s.index, recent)
		}
		worker := s.worker
		c.workWg.Add(1)
		go func() {
			defer c.workWg.Done()
			worker.Process(ctx, req)
		}()
	}
}

// recordWedgeRestart appends now to the slot's watchdog-restart history,
// drops entries outside the alert window, and returns how many remain.
// Caller holds s.mu.
func (s *slot) recordWedgeRestart(now time.Time) int {
	cutoff := now.Add(-wedgeRestartWindow)
	kept := s.wedgeRestarts[:0]
	for _, t := range s.wedgeRestarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.wedgeRestarts = append(kept, now)
	return len(s.wedgeRestarts)
}

func (c *Controller) alertRestartBurst(workerIndex, count int) {
	c.logger.Error("controller: worker slot repeatedly wedged",
		"worker", workerIndex, "restarts_last_hour", count)
	if c.alerter == nil {
		return
	}
	_ = c.alerter.Send(c.ctx, notify.Notification{
		Timestamp: time.Now(),
		Type:      notify.Alarm,
		Source:    "controller",
		Message:   fmt.Sprintf("worker slot %d wedged %d times within an hour", workerIndex, count),
	})
}
