// Package app is the engine-wide composition root: it wires a storage
// backend, the Queue/Controller/Anti-Greylist/Catch-All collaborators,
// startup recovery and the optional backup/logging daemons into one
// App through functional options.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deliverkit/verifier/antigreylist"
	"github.com/deliverkit/verifier/catchall"
	"github.com/deliverkit/verifier/config"
	"github.com/deliverkit/verifier/controller"
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/migrations"
	"github.com/deliverkit/verifier/notify"
	"github.com/deliverkit/verifier/notify/webhook"
	"github.com/deliverkit/verifier/queue"
	"github.com/deliverkit/verifier/recovery"
	"github.com/deliverkit/verifier/smtp"
	"github.com/deliverkit/verifier/verifier"
)

// migrator is satisfied by both db/crawshaw.Db and db/zombiezen.Db.
// db.Db itself stays driver-agnostic and does not declare this method,
// since the two backends apply schema differently (cgo vs pure-Go
// sqlitex script execution).
type migrator interface {
	Migrate(fsys fs.FS) error
}

// Backup is the seam backup.Litestream satisfies. Continuous backup is
// optional: a deployment with Litestream.Enabled=false never supplies one.
type Backup interface {
	Start() error
	Stop(ctx context.Context) error
}

// LogDaemon is the seam log.Daemon satisfies. The durable batch-logging
// path is optional: a deployment with Log.Batch.Enabled=false never
// supplies one and every record stays on the synchronous console path.
type LogDaemon interface {
	Start() error
	Stop(ctx context.Context) error
}

// App is the process-wide context. One of each collaborator, wired
// from a config.Provider snapshot at construction time.
type App struct {
	id       uuid.UUID
	store    db.Db
	provider *config.Provider
	logger   *slog.Logger
	alerter  notify.Notifier

	queue    *queue.Queue
	antigrey *antigreylist.Store
	cache    *catchall.Cache
	webhook  *webhook.Notifier
	ctrl     *controller.Controller
	recov    *recovery.Recovery
	coord    *recovery.Coordinator

	backup    Backup
	logDaemon LogDaemon

	sweepWg     sync.WaitGroup
	sweepCancel context.CancelFunc
}

// Option configures an App under construction.
type Option func(*App)

// WithDB sets the storage backend. Required.
func WithDB(store db.Db) Option {
	return func(a *App) { a.store = store }
}

// WithConfigProvider sets the live configuration source. Required.
func WithConfigProvider(p *config.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithLogger sets the operator-facing logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithAlerter sets the operational-alert backend. Defaults to a
// NilNotifier when no deployment has activated one.
func WithAlerter(n notify.Notifier) Option {
	return func(a *App) { a.alerter = n }
}

// WithBackup attaches a continuous-backup collaborator.
func WithBackup(b Backup) Option {
	return func(a *App) { a.backup = b }
}

// WithLogDaemon attaches the durable batch-logging collaborator.
func WithLogDaemon(d LogDaemon) Option {
	return func(a *App) { a.logDaemon = d }
}

// New builds an App from opts, wiring every derived collaborator
// (Queue, Anti-Greylist Store, Catch-All Cache, Controller, Recovery)
// off of the supplied store and the config snapshot current at
// construction time.
func New(opts ...Option) (*App, error) {
	a := &App{id: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		return nil, fmt.Errorf("app: db is required but was not provided")
	}
	if a.provider == nil {
		return nil, fmt.Errorf("app: config provider is required but was not provided")
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.alerter == nil {
		a.alerter = notify.NewNilNotifier()
	}

	cfg := a.provider.Get()

	a.queue = queue.New(a.store)
	a.antigrey = antigreylist.New(a.store, antigreylist.Config{
		InitialBackoff: cfg.AntiGreylist.InitialBackoff.Duration,
		MaxBackoff:     cfg.AntiGreylist.MaxBackoff.Duration,
		MaxAttempts:    cfg.AntiGreylist.MaxAttempts,
	})

	cache, err := catchall.New(a.store, catchall.Config{
		CacheLevel:      cfg.CatchAll.CacheLevel,
		TTL:             cfg.CatchAll.CacheTTL.Duration,
		MinAge:          cfg.CatchAll.MinAge.Duration,
		MinConfidence:   cfg.CatchAll.MinConfidence,
		CleanupInterval: cfg.CatchAll.CleanupInterval.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("app: catchall cache: %w", err)
	}
	a.cache = cache

	a.webhook = webhook.New(webhook.Config{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Timeout:     cfg.Webhook.Timeout.Duration,
		BackoffUnit: cfg.Webhook.BackoffUnit.Duration,
	}, a.logger)

	connectTimeout := cfg.Controller.SMTPConnectTimeout.Duration
	if connectTimeout <= 0 {
		connectTimeout = cfg.Controller.Timeout.Duration
	}
	workerCfg := verifier.Config{
		MXRaceTimeout:   cfg.Controller.MXRaceTimeout.Duration,
		PingFreq:        cfg.Controller.PingFreq.Duration,
		QuickCheckBatch: cfg.Controller.QuickCheckBatch,
		SMTP: smtp.Config{
			EHLOName:        cfg.Controller.MXDomain,
			MailFromDomain:  cfg.Controller.EMDomain,
			Port:            cfg.Controller.SMTPPort,
			BaseTimeout:     cfg.Controller.Timeout.Duration,
			ConnectTimeout:  connectTimeout,
			ReconnectBudget: cfg.Controller.ReconnectBudget,
			RetryPerEmail:   cfg.Controller.RetryPerEmail,
			StartTLS:        cfg.Controller.StartTLS,
		},
		// Disposable, RoleAccounts, FreeDomains, Microsoft and Yahoo
		// are deliberately left nil: disposable-list refresh and the
		// Microsoft/Yahoo specialized probes are pluggable enrichments
		// owned outside this engine. quickCheck and runSpecialized
		// both fall back to a no-match default in their absence, so
		// the pipeline still runs the generic path.
	}

	ctrlCfg := controller.DefaultConfig()
	if cfg.Controller.ThreadNum > 0 {
		ctrlCfg.N = cfg.Controller.ThreadNum
	}
	if cfg.Controller.RestartAfter.Duration > 0 {
		ctrlCfg.RestartAfter = cfg.Controller.RestartAfter.Duration
	}
	if cfg.Controller.PingFreq.Duration > 0 {
		ctrlCfg.PingFreq = cfg.Controller.PingFreq.Duration
	}
	if cfg.Controller.ArchiveCleanupInterval.Duration > 0 {
		ctrlCfg.ArchiveCleanup = cfg.Controller.ArchiveCleanupInterval.Duration
	}
	if cfg.Controller.ArchiveCompletedTTL.Duration > 0 {
		ctrlCfg.ArchiveCompletedTTL = cfg.Controller.ArchiveCompletedTTL.Duration
	}
	if cfg.Controller.ArchiveOrphanTTL.Duration > 0 {
		ctrlCfg.ArchiveOrphanTTL = cfg.Controller.ArchiveOrphanTTL.Duration
	}

	a.ctrl = controller.New(ctrlCfg, a.store, a.queue, a.antigrey, a.cache, workerCfg, a.webhook, a.logger)
	a.ctrl.SetAlerter(a.alerter)

	a.recov = recovery.New(
		recovery.Config{LookbackWindow: cfg.Recovery.LookbackWindow.Duration},
		a.store, a.queue, a.antigrey, a.ctrl, a.webhook, a.alerter, a.logger,
	)
	a.coord = recovery.NewCoordinator()

	return a, nil
}

// ID is this process's run identity: a fresh uuid.UUID minted every
// process start and never persisted, so a restart is always
// distinguishable from the run that preceded it.
func (a *App) ID() uuid.UUID { return a.id }

// Config returns the live configuration provider, for collaborators
// constructed outside App (e.g. the SIGHUP reload closure in cmd/).
func (a *App) Config() *config.Provider { return a.provider }

// Enqueue accepts one verification request at the ingress boundary.
// The HTTP transport that would call this lives outside this engine;
// this is the call such a transport makes.
func (a *App) Enqueue(req db.Request) error {
	return a.queue.Add(req)
}

// Migrate applies the embedded schema (migrations.Schema()) against the
// store's writer connection. Every statement is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS), so it is safe to call on every
// startup rather than only on first run.
func (a *App) Migrate() error {
	m, ok := a.store.(migrator)
	if !ok {
		return fmt.Errorf("app: db backend %T does not support migrations", a.store)
	}
	return m.Migrate(migrations.Schema())
}

// Recover runs startup orphan reconciliation: it seeds the
// Controller's in-memory archive mirror, rebuilds the Queue's dedup
// index, and resolves every orphaned request before any worker runs.
// coord's Done channel closes when this returns, whether or not it
// errored, so downstream waiters never block forever on a failed run.
func (a *App) Recover() (recovery.Summary, error) {
	return a.recov.Run(a.coord)
}

// RecoveryDone is the coordination signal Recover fires once startup
// reconciliation has finished, successfully or not.
func (a *App) RecoveryDone() <-chan struct{} { return a.coord.Done() }

// Start launches the Controller's worker pool, the catch-all cache's
// expiry sweep, and, if configured, the continuous-backup and
// durable-logging daemons. Call only after Migrate and Recover have
// both completed.
func (a *App) Start(ctx context.Context) error {
	a.ctrl.Start(ctx)

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	a.sweepCancel = sweepCancel
	a.sweepWg.Add(1)
	go a.catchallSweepLoop(sweepCtx)

	if a.backup != nil {
		if err := a.backup.Start(); err != nil {
			return fmt.Errorf("app: backup start: %w", err)
		}
	}
	if a.logDaemon != nil {
		if err := a.logDaemon.Start(); err != nil {
			return fmt.Errorf("app: log daemon start: %w", err)
		}
	}
	return nil
}

// catchallSweepLoop deletes expired catch-all rows on the cache's
// configured interval until ctx is cancelled.
func (a *App) catchallSweepLoop(ctx context.Context) {
	defer a.sweepWg.Done()
	ticker := time.NewTicker(a.cache.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.cache.Clean(); err != nil {
				a.logger.Error("app: catchall sweep", "error", err)
			}
		}
	}
}

// Shutdown stops every running collaborator and closes the store. It
// tolerates partial startup: any collaborator that was never started
// is simply nil and skipped. The first error encountered is returned;
// every stop is still attempted.
func (a *App) Shutdown(ctx context.Context) error {
	a.ctrl.Stop()
	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	a.sweepWg.Wait()

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.logDaemon != nil {
		note(a.logDaemon.Stop(ctx))
	}
	if a.backup != nil {
		note(a.backup.Stop(ctx))
	}
	note(a.store.Close())

	return firstErr
}
