// Package verifier drives the per-request pipeline: quick
// syntax/disposable/role/MX checks, MX-organization grouping, and SMTP
// probe dispatch, collated into a per-email VerificationObj set.
package verifier

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/mx"
)

// quickCheckConcurrency is the default bound on how many quick checks
// run at once, enforced as a shared errgroup limit rather than literal
// chunking.
const quickCheckConcurrency = 20

var emailSyntaxRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// parseSyntax splits email into username/domain and validates its shape.
func parseSyntax(email string) db.Syntax {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return db.Syntax{Username: email, Valid: false}
	}
	return db.Syntax{
		Username: email[:at],
		Domain:   strings.ToLower(email[at+1:]),
		Valid:    emailSyntaxRe.MatchString(email),
	}
}

// DisposableChecker, RoleAccountSet and FreeDomainSet are narrow seams
// for pluggable enrichment lists whose refresh policy lives outside
// this engine. A worker that isn't given one treats every lookup as
// "not a match".
type DisposableChecker interface {
	IsDisposable(domain string) bool
}

type RoleAccountSet interface {
	IsRoleAccount(username string) bool
}

type FreeDomainSet interface {
	IsFreeDomain(domain string) bool
}

type noopSet struct{}

func (noopSet) IsDisposable(string) bool  { return false }
func (noopSet) IsRoleAccount(string) bool { return false }
func (noopSet) IsFreeDomain(string) bool  { return false }

// quickCheck runs the per-email quick pass over a request's emails:
// syntax, role/free/disposable flags, then MX resolution.
func (w *Worker) quickCheck(ctx context.Context, emails []string) map[string]*db.VerificationObj {
	results := make(map[string]*db.VerificationObj, len(emails))
	var mu sync.Mutex

	limit := w.cfg.QuickCheckBatch
	if limit <= 0 {
		limit = quickCheckConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, email := range emails {
		email := email
		g.Go(func() error {
			obj := w.quickCheckOne(gctx, email)
			mu.Lock()
			results[email] = obj
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // quickCheckOne never returns an error; nothing to propagate.
	return results
}

func (w *Worker) quickCheckOne(ctx context.Context, email string) *db.VerificationObj {
	obj := &db.VerificationObj{Email: email, Reachable: "unknown"}
	syntax := parseSyntax(email)
	obj.Syntax = syntax
	if !syntax.Valid {
		obj.Reachable = "no"
		return obj
	}

	obj.RoleAccount = w.roleAccounts().IsRoleAccount(syntax.Username)
	obj.Free = w.freeDomains().IsFreeDomain(syntax.Domain)
	obj.Disposable = w.disposable().IsDisposable(syntax.Domain)
	if obj.Disposable {
		obj.Reachable = "no"
		return obj
	}

	records, err := mx.Resolve(ctx, syntax.Domain, w.cfg.MXRaceTimeout)
	if err != nil || len(records) == 0 {
		obj.HasMXRecords = false
		obj.RequiresRecheck = true
		return obj
	}
	obj.HasMXRecords = true
	obj.MX = records
	return obj
}

func (w *Worker) disposable() DisposableChecker {
	if w.cfg.Disposable != nil {
		return w.cfg.Disposable
	}
	return noopSet{}
}

func (w *Worker) roleAccounts() RoleAccountSet {
	if w.cfg.RoleAccounts != nil {
		return w.cfg.RoleAccounts
	}
	return noopSet{}
}

func (w *Worker) freeDomains() FreeDomainSet {
	if w.cfg.FreeDomains != nil {
		return w.cfg.FreeDomains
	}
	return noopSet{}
}
