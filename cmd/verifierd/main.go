// Command verifierd runs the email deliverability verification engine:
// it loads configuration, opens the storage backend, reconciles any
// orphaned work left over from a previous run, then starts the
// Controller's worker pool until asked to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	phuslog "github.com/phuslu/log"
	"golang.org/x/time/rate"

	"github.com/deliverkit/verifier/app"
	"github.com/deliverkit/verifier/backup"
	"github.com/deliverkit/verifier/config"
	"github.com/deliverkit/verifier/db/zombiezen"
	vlog "github.com/deliverkit/verifier/log"
	"github.com/deliverkit/verifier/migrations"
	"github.com/deliverkit/verifier/notify"
	"github.com/deliverkit/verifier/notify/discord"
)

func main() {
	configPath := flag.String("config", "verifier.toml", "path to the engine's TOML configuration file")
	flag.Parse()

	logger := slog.New(phuslog.SlogNewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	console := vlog.NewMessageFormatter().WithComponent("verifierd", "📮")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	provider := config.NewProvider(cfg)
	fmt.Fprintln(os.Stderr, console.Start("loaded configuration from "+*configPath))

	a, cleanup, err := buildApp(provider, logger)
	if err != nil {
		logger.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := a.Migrate(); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, console.Ok("schema migrations applied"))

	if !cfg.Notifier.Discord.Activated {
		fmt.Fprintln(os.Stderr, console.Disabled("operator alerting (Discord notifier not activated)"))
	}

	summary, err := a.Recover()
	if err != nil {
		logger.Error("startup recovery reported an error; continuing with degraded state", "error", err)
		fmt.Fprintln(os.Stderr, console.Warn("startup recovery degraded, see logs"))
	} else {
		fmt.Fprintln(os.Stderr, console.Complete(fmt.Sprintf("startup recovery reconciled %d request(s)", len(summary.Decisions))))
	}
	logger.Info("startup recovery complete", "decisions", len(summary.Decisions))

	ctx, cancelCtx := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancelCtx()
		logger.Error("failed to start app", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	reload := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reload, syscall.SIGHUP)

	logger.Info("verifierd started", "run_id", a.ID().String())
	fmt.Fprintln(os.Stderr, console.Active("dispatch loop running, run_id="+a.ID().String()))

	reloadFn := config.Reload(*configPath, provider, logger)
runLoop:
	for {
		select {
		case <-reload:
			if err := reloadFn(); err != nil {
				logger.Error("config reload failed, continuing with previous configuration", "error", err)
			}
		case sig := <-stop:
			logger.Info("received shutdown signal", "signal", sig.String())
			break runLoop
		}
	}

	cancelCtx()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown reported an error", "error", err)
		os.Exit(1)
	}
	logger.Info("verifierd stopped cleanly")
}

// buildApp wires the optional backup/alerting/logging collaborators
// config activates, then assembles the App. The returned cleanup
// closes anything buildApp opened that App.Shutdown does not already
// own (nothing currently, kept for symmetry with collaborators that
// may gain their own resources later).
func buildApp(provider *config.Provider, logger *slog.Logger) (*app.App, func(), error) {
	cfg := provider.Get()

	store, err := app.NewStore(cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open store: %w", err)
	}

	opts := []app.Option{
		app.WithDB(store),
		app.WithConfigProvider(provider),
		app.WithLogger(logger),
	}

	if cfg.Notifier.Discord.Activated {
		d, err := discord.New(discord.Options{
			WebhookURL:   cfg.Notifier.Discord.WebhookURL,
			APIRateLimit: intervalToRateLimit(cfg.Notifier.Discord.APIRateLimit.Duration),
			APIBurst:     cfg.Notifier.Discord.APIBurst,
			SendTimeout:  cfg.Notifier.Discord.SendTimeout.Duration,
		}, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("discord notifier: %w", err)
		}
		opts = append(opts, app.WithAlerter(notify.NewMultiNotifier(d)))
	}

	if cfg.Litestream.Enabled {
		ls, err := backup.NewLitestream(provider, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("litestream: %w", err)
		}
		opts = append(opts, app.WithBackup(ls))
	}

	if cfg.Log.Batch.Enabled {
		conn, err := vlog.OpenLogConn(cfg.Log.Batch.DbPath)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open log db: %w", err)
		}
		if err := zombiezen.ApplyMigrations(conn, migrations.Schema()); err != nil {
			conn.Close()
			return nil, func() {}, fmt.Errorf("migrate log db: %w", err)
		}
		daemon, err := vlog.New(provider, logger, conn)
		if err != nil {
			conn.Close()
			return nil, func() {}, fmt.Errorf("log daemon: %w", err)
		}
		opts = append(opts, app.WithLogDaemon(daemon))
	}

	a, err := app.New(opts...)
	if err != nil {
		return nil, func() {}, err
	}
	return a, func() {}, nil
}

// intervalToRateLimit converts config.Notifier.Discord.APIRateLimit
// (the minimum spacing between Discord API calls) into rate.Limit's
// events-per-second form. A non-positive interval means unlimited.
func intervalToRateLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
