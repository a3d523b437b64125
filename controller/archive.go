package controller

import (
	"time"

	"github.com/deliverkit/verifier/db"
)

// cleanupArchive is the periodic tiered archive sweep: completed
// requests' archive rows outlive completion by at most
// ArchiveCompletedTTL, and any other archive row is dropped after
// ArchiveOrphanTTL regardless of status (a safety net; the normal path
// deletes a completed request's archive row immediately on completion).
func (c *Controller) cleanupArchive(now time.Time) {
	entries, err := c.store.ListArchive()
	if err != nil {
		c.logger.Error("controller: list archive", "error", err)
		return
	}

	for _, e := range entries {
		row, rowErr := c.store.GetResults(e.RequestID)
		completed := rowErr == nil && row.Status == db.StatusCompleted

		var drop bool
		switch {
		case completed && !row.CompletedAt.IsZero() && now.Sub(row.CompletedAt) > c.cfg.ArchiveCompletedTTL:
			drop = true
		case !completed && now.Sub(e.CreatedAt) > c.cfg.ArchiveOrphanTTL:
			drop = true
		}
		if !drop {
			continue
		}

		if err := c.store.DeleteArchive(e.RequestID); err != nil && err != db.ErrNotFound {
			c.logger.Error("controller: cleanup delete archive", "request_id", e.RequestID, "error", err)
			continue
		}
		c.archiveMu.Lock()
		delete(c.archive, e.RequestID)
		c.archiveMu.Unlock()
	}
}
