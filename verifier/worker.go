package verifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/deliverkit/verifier/catchall"
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/mx"
	"github.com/deliverkit/verifier/smtp"
)

// SpecializedResult is the merge delta a specialized verification path
// returns for one email instead of driving the generic SMTP probe
// against it.
type SpecializedResult struct {
	SMTP       db.SMTPVerdict
	Reachable  string
	Gravatar   string
	Suggestion string
	Error      bool
	ErrorMsg   string
}

// SpecializedProbe is the narrow seam for per-email enrichments this
// engine's core does not implement itself (Microsoft-login
// verification, Yahoo's alternate path, Gravatar lookup); only the
// interface the pipeline calls through is fixed here.
type SpecializedProbe interface {
	Probe(ctx context.Context, email string) (SpecializedResult, bool, error)
}

// Config bundles the Verifier Worker's tunables and pluggable seams.
type Config struct {
	MXRaceTimeout time.Duration
	PingFreq      time.Duration

	// QuickCheckBatch bounds how many syntax/role/MX quick checks run
	// at once; zero means the package default of 20.
	QuickCheckBatch int
	SMTP            smtp.Config

	Disposable   DisposableChecker
	RoleAccounts RoleAccountSet
	FreeDomains  FreeDomainSet

	Microsoft SpecializedProbe
	Yahoo     SpecializedProbe
}

// Ping is the heartbeat message the Controller uses to update a
// slot's last-ping timestamp.
type Ping struct {
	WorkerIndex int
	RequestID   string
	At          time.Time
}

// Report is the terminal message of one Process call.
type Report struct {
	WorkerIndex     int
	RequestID       string
	Results         map[string]db.VerificationObj
	Greylisted      []string
	Blacklisted     []string
	RecheckRequired []string
}

// Worker runs the per-request pipeline for one controller slot,
// probing over the shared catch-all cache.
type Worker struct {
	index int
	cfg   Config
	cache *catchall.Cache
	out   chan<- any
}

func New(index int, cfg Config, cache *catchall.Cache, out chan<- any) *Worker {
	return &Worker{index: index, cfg: cfg, cache: cache, out: out}
}

// Process runs the full pipeline for req and posts a Report on w.out,
// heartbeating a Ping every cfg.PingFreq while it works.
func (w *Worker) Process(ctx context.Context, req db.Request) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	if w.cfg.PingFreq > 0 {
		wg.Add(1)
		go w.heartbeat(req.RequestID, stop, &wg)
	}

	report := w.process(ctx, req)

	close(stop)
	wg.Wait()
	w.out <- report
}

func (w *Worker) heartbeat(requestID string, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(w.cfg.PingFreq)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			w.out <- Ping{WorkerIndex: w.index, RequestID: requestID, At: now}
		}
	}
}

func (w *Worker) process(ctx context.Context, req db.Request) Report {
	objs := w.quickCheck(ctx, req.Emails)

	remaining := make(map[string]*db.VerificationObj, len(objs))
	for email, obj := range objs {
		if !obj.Syntax.Valid || obj.Disposable || !obj.HasMXRecords {
			continue
		}
		if specialized, handled := w.runSpecialized(ctx, obj.Syntax.Domain, email); handled {
			applySpecialized(obj, specialized)
			continue
		}
		remaining[email] = obj
	}

	groups := groupByOrg(remaining)
	w.dispatchGroups(ctx, groups, objs)

	return w.collate(req.RequestID, objs)
}

// runSpecialized dispatches the Microsoft/Yahoo specialized paths when
// the caller wired them in; absent a plugin, every email falls through
// to the generic MX-grouped SMTP probe.
func (w *Worker) runSpecialized(ctx context.Context, domain, email string) (SpecializedResult, bool) {
	switch {
	case w.cfg.Microsoft != nil && mx.IsSingleRecipientHost(domain):
		if res, ok, err := w.cfg.Microsoft.Probe(ctx, email); err == nil && ok {
			return res, true
		}
	case w.cfg.Yahoo != nil && domain == "yahoo.com":
		if res, ok, err := w.cfg.Yahoo.Probe(ctx, email); err == nil && ok {
			return res, true
		}
	}
	return SpecializedResult{}, false
}

func applySpecialized(obj *db.VerificationObj, res SpecializedResult) {
	obj.SMTP = res.SMTP
	if res.Reachable != "" {
		obj.Reachable = res.Reachable
	}
	obj.Gravatar = res.Gravatar
	obj.Suggestion = res.Suggestion
	obj.Error = res.Error
	obj.ErrorMsg = res.ErrorMsg
	obj.Done = true
}

// dispatchGroups runs every organization group concurrently, and within
// each group fans its domain sub-batches out up to the profile's
// ParallelConnections, paced by a rate.Limiter scoped to the profile's
// GroupBy granularity.
func (w *Worker) dispatchGroups(ctx context.Context, groups map[mx.Organization]*orgGroup, objs map[string]*db.VerificationObj) {
	var outer errgroup.Group
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	getLimiter := func(key string, rl mx.RateLimit) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstLimit)
			limiters[key] = l
		}
		return l
	}

	for _, g := range groups {
		g := g
		outer.Go(func() error {
			probe := smtp.New(w.profileProbeConfig(g.profile), w.cache)
			batches := subBatches(g, objs)

			inner, ictx := errgroup.WithContext(ctx)
			inner.SetLimit(max(1, g.profile.ParallelConnections))
			for _, b := range batches {
				b := b
				inner.Go(func() error {
					limiter := getLimiter(b.limiterKey, g.profile.RateLimit)
					if err := limiter.Wait(ictx); err != nil {
						return nil
					}
					results := probe.Check(ictx, b.mxHosts, b.recipients)
					mu.Lock()
					for email, res := range results {
						applySMTPResult(objs[email], res)
					}
					mu.Unlock()
					// Each connection slot pauses before picking up the next
					// sub-batch of its organization group.
					if g.profile.DelayBetweenBatches > 0 {
						select {
						case <-ictx.Done():
						case <-time.After(g.profile.DelayBetweenBatches):
						}
					}
					return nil
				})
			}
			_ = inner.Wait()
			return nil
		})
	}
	_ = outer.Wait()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (w *Worker) profileProbeConfig(p mx.Profile) smtp.Config {
	cfg := w.cfg.SMTP
	cfg.BaseTimeout = p.Timeout
	cfg.ReconnectBudget = p.MaxRetries
	return cfg
}

func applySMTPResult(obj *db.VerificationObj, res smtp.Result) {
	if obj == nil {
		return
	}
	obj.SMTP = db.SMTPVerdict{
		HostExists:  res.HostExists,
		FullInbox:   res.FullInbox,
		CatchAll:    res.CatchAll,
		Deliverable: res.Deliverable,
		Disabled:    res.Disabled,
	}
	obj.Greylisted = res.Greylisted
	obj.RequiresRecheck = obj.RequiresRecheck || res.RequiresRecheck
	obj.Error = res.Error
	obj.ErrorMsg = res.ErrorMsg
	obj.Done = true
	if res.Deliverable {
		obj.Reachable = "yes"
	} else if res.Error || res.Disabled {
		obj.Reachable = "no"
	}
}

// collate merges quick-check + org-path results into the tagging sets
// the controller's partial-completion handler reads.
func (w *Worker) collate(requestID string, objs map[string]*db.VerificationObj) Report {
	report := Report{
		WorkerIndex: w.index,
		RequestID:   requestID,
		Results:     make(map[string]db.VerificationObj, len(objs)),
	}
	for email, obj := range objs {
		if !obj.HasMXRecords && obj.Syntax.Valid && !obj.Disposable {
			obj.RequiresRecheck = true
		}
		report.Results[email] = *obj
		if obj.Greylisted {
			report.Greylisted = append(report.Greylisted, email)
		}
		if obj.SMTP.Disabled && !obj.SMTP.CatchAll {
			report.Blacklisted = append(report.Blacklisted, email)
		}
		if obj.RequiresRecheck {
			report.RecheckRequired = append(report.RecheckRequired, email)
		}
	}
	return report
}
