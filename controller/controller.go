// Package controller implements the fixed-size worker pool dispatcher:
// it pulls Requests from the Queue and the Anti-Greylist Store,
// assigns them to free worker slots, collates partial completions into
// the archive and external results view, and restarts wedged or
// aged-out workers.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deliverkit/verifier/antigreylist"
	"github.com/deliverkit/verifier/catchall"
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/notify"
	"github.com/deliverkit/verifier/notify/webhook"
	"github.com/deliverkit/verifier/queue"
	"github.com/deliverkit/verifier/topk"
	"github.com/deliverkit/verifier/verifier"
)

// Config bundles the Controller's tunables.
type Config struct {
	N                   int
	TickInterval        time.Duration
	RestartAfter        time.Duration
	PingFreq            time.Duration
	WatchdogMultiplier  float64
	ArchiveCleanup      time.Duration
	ArchiveCompletedTTL time.Duration
	ArchiveOrphanTTL    time.Duration
}

// DefaultConfig returns the stock tunables: a pool of 4 workers ticking
// at 1Hz, recycled every 10 minutes, with the archive swept hourly.
func DefaultConfig() Config {
	return Config{
		N:                   4,
		TickInterval:        time.Second,
		RestartAfter:        10 * time.Minute,
		PingFreq:            10 * time.Second,
		WatchdogMultiplier:  2.5,
		ArchiveCleanup:      time.Hour,
		ArchiveCompletedTTL: 24 * time.Hour,
		ArchiveOrphanTTL:    7 * 24 * time.Hour,
	}
}

// slot is one of the N fixed worker positions, carrying the current
// assignment, heartbeat timestamp, recycle deadline and the transient
// restarting/locked flags that gate dispatch.
type slot struct {
	mu         sync.Mutex
	index      int
	worker     *verifier.Worker
	cancel     context.CancelFunc
	request    *db.Request
	lastPing   time.Time
	restartAt  time.Time
	restarting bool
	locked     bool
	// wedgeRestarts holds the times of recent watchdog-forced restarts
	// (scheduled idle recycles are not counted).
	wedgeRestarts []time.Time
}

// Controller owns the worker pool and the in-memory archive mirror;
// nothing else mutates either.
type Controller struct {
	cfg       Config
	store     db.Db
	queue     *queue.Queue
	antigrey  *antigreylist.Store
	cache     *catchall.Cache
	webhook   *webhook.Notifier
	workerCfg verifier.Config
	logger    *slog.Logger
	alerter   notify.Notifier

	slots     []*slot
	msgCh     chan any
	offenders *topk.TopKSketch

	archiveMu sync.Mutex
	archive   map[string]db.ArchiveEntry

	// retryMu guards retryAttempts: the attempt count of each
	// anti-greylist entry claimed for an in-flight retry pass, carried
	// back into the store if the retry greylists again.
	retryMu       sync.Mutex
	retryAttempts map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	loopWg sync.WaitGroup
	workWg sync.WaitGroup
}

// New constructs a Controller with cfg.N idle slots, each bound to its
// own Verifier Worker sharing the Controller's message channel.
func New(cfg Config, store db.Db, q *queue.Queue, ag *antigreylist.Store, cache *catchall.Cache, workerCfg verifier.Config, notifier *webhook.Notifier, logger *slog.Logger) *Controller {
	if cfg.N <= 0 {
		cfg.N = 4
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ArchiveCleanup <= 0 {
		cfg.ArchiveCleanup = time.Hour
	}
	if cfg.ArchiveCompletedTTL <= 0 {
		cfg.ArchiveCompletedTTL = 24 * time.Hour
	}
	if cfg.ArchiveOrphanTTL <= 0 {
		cfg.ArchiveOrphanTTL = 7 * 24 * time.Hour
	}
	c := &Controller{
		cfg:           cfg,
		store:         store,
		queue:         q,
		antigrey:      ag,
		cache:         cache,
		webhook:       notifier,
		workerCfg:     workerCfg,
		logger:        logger,
		msgCh:         make(chan any, cfg.N*4),
		archive:       make(map[string]db.ArchiveEntry),
		retryAttempts: make(map[string]int),
		offenders:     topk.New(OffenderSketchParams()),
	}
	now := time.Now()
	c.slots = make([]*slot, cfg.N)
	for i := 0; i < cfg.N; i++ {
		c.slots[i] = &slot{
			index:     i,
			worker:    verifier.New(i, workerCfg, cache, c.msgCh),
			restartAt: now.Add(cfg.RestartAfter),
		}
	}
	return c
}

// SetAlerter attaches an operational-alert backend. Without one,
// restart-burst conditions are only logged.
func (c *Controller) SetAlerter(n notify.Notifier) {
	c.alerter = n
}

// SeedArchive preloads the in-memory archive mirror from durable
// storage. Called by startup recovery before Start.
func (c *Controller) SeedArchive(entries []db.ArchiveEntry) {
	c.archiveMu.Lock()
	defer c.archiveMu.Unlock()
	for _, e := range entries {
		c.archive[e.RequestID] = e
	}
}

// Start launches the dispatch loop, message loop and archive cleanup
// loop as background goroutines. It returns immediately; callers stop
// the Controller with Stop.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.loopWg.Add(3)
	go c.messageLoop()
	go c.dispatchLoop()
	go c.archiveCleanupLoop()
}

// Stop cancels every in-flight worker and loop, and blocks until they
// have exited.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.loopWg.Wait()
	c.workWg.Wait()
}

func (c *Controller) dispatchLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// tick runs one pass of the main loop: recycle aged idle workers,
// replace wedged ones, then hand free slots first to retry-ready
// greylist entries and then to the queue.
func (c *Controller) tick(now time.Time) {
	c.checkRestarts(now)
	c.checkWatchdog(now)
	c.assignRetryReady()
	c.assignFromQueue()
}

func (c *Controller) messageLoop() {
	defer c.loopWg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.msgCh:
			switch m := msg.(type) {
			case verifier.Ping:
				c.handlePing(m)
			case verifier.Report:
				c.handleReport(m)
			}
		}
	}
}

func (c *Controller) archiveCleanupLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.cfg.ArchiveCleanup)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.cleanupArchive(time.Now())
		}
	}
}

func (c *Controller) handlePing(p verifier.Ping) {
	s := c.slots[p.WorkerIndex]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request != nil && s.request.RequestID == p.RequestID {
		s.lastPing = p.At
	}
}
