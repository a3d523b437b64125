package smtp

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/deliverkit/verifier/catchall"
)

// Config is the probe's tunable numeric knobs.
type Config struct {
	EHLOName        string
	MailFromDomain  string
	Port            int
	BaseTimeout     time.Duration
	ConnectTimeout  time.Duration
	ReconnectBudget int
	RetryPerEmail   int
	// StartTLS upgrades the session when the server advertises it. The
	// upgrade is opportunistic: a host that doesn't offer STARTTLS is
	// probed in the clear.
	StartTLS bool
}

// DefaultConfig is the stock probe: port 25, 15s socket timeout, 3
// reconnects per MX, 2 retries per recipient.
func DefaultConfig() Config {
	return Config{
		Port:            25,
		BaseTimeout:     15 * time.Second,
		ConnectTimeout:  15 * time.Second,
		ReconnectBudget: 3,
		RetryPerEmail:   2,
	}
}

// stageTimeout applies the stage-aware multipliers to the base socket
// timeout: RCPT answers arrive slower than the banner dialogue, QUIT
// deserves less patience.
func (c Config) stageTimeout(stage string) time.Duration {
	switch stage {
	case "rcpt":
		return time.Duration(float64(c.BaseTimeout) * 1.2)
	case "data":
		return time.Duration(float64(c.BaseTimeout) * 0.8)
	case "quit":
		return time.Duration(float64(c.BaseTimeout) * 0.5)
	default:
		return c.BaseTimeout
	}
}

// Recipient is one email the probe must verify, paired with its domain
// for catch-all caching.
type Recipient struct {
	Email  string
	Domain string
}

// Result is the SMTP-probe-derived verdict for one recipient: the
// fields of db.SMTPVerdict plus the greylist/recheck tags the Verifier
// Worker's collation step reads.
type Result struct {
	HostExists      bool
	FullInbox       bool
	CatchAll        bool
	Deliverable     bool
	Disabled        bool
	Greylisted      bool
	RequiresRecheck bool
	Error           bool
	ErrorMsg        string
}

// Probe drives one logical verification pass over a batch of recipients
// that share an MX host chain, opening at most one connection at a
// time.
type Probe struct {
	cfg   Config
	cache *catchall.Cache
}

func New(cfg Config, cache *catchall.Cache) *Probe {
	return &Probe{cfg: cfg, cache: cache}
}

type probeEntry struct {
	address   string
	pairEmail string
	domain    string
	isProbe   bool
}

func randomLocalPart() string {
	b := make([]byte, 8)
	_, _ = cryptorand.Read(b)
	return "probe" + hex.EncodeToString(b)
}

func buildSequence(batch []Recipient) []probeEntry {
	seq := make([]probeEntry, 0, len(batch)*2)
	for _, r := range batch {
		seq = append(seq, probeEntry{
			address:   randomLocalPart() + "@" + r.Domain,
			pairEmail: r.Email,
			domain:    r.Domain,
			isProbe:   true,
		})
		seq = append(seq, probeEntry{
			address:   r.Email,
			pairEmail: r.Email,
			domain:    r.Domain,
			isProbe:   false,
		})
	}
	return seq
}

type pairState struct {
	probeGreylisted bool
}

// Check runs the full interleaved probe sequence over batch,
// reconnecting across mxHosts per the reconnect/retry budgets, and
// returns one Result per recipient email.
func (p *Probe) Check(ctx context.Context, mxHosts []string, batch []Recipient) map[string]Result {
	results := make(map[string]Result, len(batch))
	done := make(map[string]bool, len(batch))
	retries := make(map[string]int, len(batch))
	relayBlocks := make(map[string]int)
	relaySkipped := make(map[string]bool)
	pairs := make(map[string]*pairState, len(batch))
	for _, r := range batch {
		results[r.Email] = Result{}
		pairs[r.Email] = &pairState{}
	}

	seq := buildSequence(batch)

	allDone := func() bool {
		for _, r := range batch {
			if !done[r.Email] {
				return false
			}
		}
		return true
	}

	for _, host := range mxHosts {
		if allDone() {
			break
		}
		for reconnects := 0; reconnects < p.cfg.ReconnectBudget; reconnects++ {
			if allDone() {
				break
			}
			err := p.runSession(ctx, host, seq, results, done, retries, relayBlocks, relaySkipped, pairs)
			if err == nil {
				break
			}
			for _, r := range batch {
				if done[r.Email] {
					continue
				}
				if retries[r.Email] >= p.cfg.RetryPerEmail {
					res := results[r.Email]
					res.Deliverable = false
					res.Error = true
					res.ErrorMsg = ErrTimeout.Error()
					results[r.Email] = res
					done[r.Email] = true
					continue
				}
				retries[r.Email]++
			}
		}
	}

	for _, r := range batch {
		if done[r.Email] {
			continue
		}
		res := results[r.Email]
		res.Deliverable = false
		res.Error = true
		if res.ErrorMsg == "" {
			res.ErrorMsg = "no reachable mx host"
		}
		results[r.Email] = res
	}
	return results
}

// ErrTimeout is recorded against a recipient once failed sessions have
// used up its RetryPerEmail budget. A recipient still within that
// budget when every host's reconnects are spent is recorded as
// "no reachable mx host" instead.
var ErrTimeout = fmt.Errorf("smtp: timeout")

// runSession opens one connection to host and drives EHLO→MAIL FROM→
// RCPT TO over the still-outstanding entries of seq. A non-nil error
// means the connection failed or timed out before the sequence could be
// finished, and the caller should reconnect; a nil error means the
// session ran to completion (every recipient resolved, or the session
// made an explicit, non-retryable, whole-batch decision such as a
// blacklist hit at EHLO).
func (p *Probe) runSession(
	ctx context.Context,
	host string,
	seq []probeEntry,
	results map[string]Result,
	done map[string]bool,
	retries map[string]int,
	relayBlocks map[string]int,
	relaySkipped map[string]bool,
	pairs map[string]*pairState,
) error {
	sess, err := dial(ctx, host, p.cfg.Port, p.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	defer sess.close()

	greeting, err := sess.readResponse(p.cfg.stageTimeout(""))
	if err != nil {
		return err
	}
	if greeting.code != 220 {
		return fmt.Errorf("smtp: unexpected greeting from %s: %d %s", host, greeting.code, greeting.body())
	}

	if err := sess.writeLine(p.cfg.stageTimeout(""), "EHLO %s", p.cfg.EHLOName); err != nil {
		return err
	}
	ehlo, err := sess.readResponse(p.cfg.stageTimeout(""))
	if err != nil {
		return err
	}
	if ehlo.code == 500 || ehlo.code == 502 {
		if err := sess.writeLine(p.cfg.stageTimeout(""), "HELO %s", p.cfg.EHLOName); err != nil {
			return err
		}
		ehlo, err = sess.readResponse(p.cfg.stageTimeout(""))
		if err != nil {
			return err
		}
	}
	if ehlo.code/100 != 2 {
		verdict := ClassifyResponse(ehlo.code, ehlo.body())
		if verdict.Kind == ErrBlocked || verdict.Kind == ErrNotAllowed {
			markSessionBlacklisted(seq, results, done)
			return nil
		}
		return fmt.Errorf("smtp: EHLO rejected by %s: %d %s", host, ehlo.code, ehlo.body())
	}
	if blk := ClassifyResponse(ehlo.code, ehlo.body()); blk.Kind == ErrBlocked || blk.Kind == ErrNotAllowed {
		markSessionBlacklisted(seq, results, done)
		return nil
	}

	if p.cfg.StartTLS && ehlo.advertises("STARTTLS") {
		if err := sess.writeLine(p.cfg.stageTimeout(""), "STARTTLS"); err != nil {
			return err
		}
		ready, err := sess.readResponse(p.cfg.stageTimeout(""))
		if err != nil {
			return err
		}
		if ready.code == 220 {
			if err := sess.startTLS(host); err != nil {
				return err
			}
			// RFC 3207: the client must forget the pre-TLS EHLO state and
			// re-identify over the upgraded socket.
			if err := sess.writeLine(p.cfg.stageTimeout(""), "EHLO %s", p.cfg.EHLOName); err != nil {
				return err
			}
			ehlo, err = sess.readResponse(p.cfg.stageTimeout(""))
			if err != nil {
				return err
			}
			if ehlo.code/100 != 2 {
				return fmt.Errorf("smtp: EHLO after STARTTLS rejected by %s: %d %s", host, ehlo.code, ehlo.body())
			}
		}
	}

	fromAddr := "contact@" + p.cfg.MailFromDomain
	if err := sess.writeLine(p.cfg.stageTimeout(""), "MAIL FROM:<%s>", fromAddr); err != nil {
		return err
	}
	mailResp, err := sess.readResponse(p.cfg.stageTimeout(""))
	if err != nil {
		return err
	}
	if mailResp.code/100 != 2 {
		return fmt.Errorf("smtp: MAIL FROM rejected by %s: %d %s", host, mailResp.code, mailResp.body())
	}
	for email, res := range results {
		if done[email] {
			continue
		}
		res.HostExists = true
		res.CatchAll = true
		results[email] = res
	}

	i := 0
	for i < len(seq) {
		entry := seq[i]
		if done[entry.pairEmail] {
			i++
			continue
		}

		if entry.isProbe {
			if v, ok := p.cache.Check(entry.domain); ok {
				if v.CatchAll {
					res := results[entry.pairEmail]
					res.HostExists = true
					res.CatchAll = true
					res.Deliverable = true
					results[entry.pairEmail] = res
					done[entry.pairEmail] = true
					i += 2
					continue
				}
				// cached non-catchall: skip only the probe, still test the
				// real recipient.
				i++
				continue
			}

			if err := sess.writeLine(p.cfg.stageTimeout("rcpt"), "RCPT TO:<%s>", entry.address); err != nil {
				return err
			}
			resp, err := sess.readResponse(p.cfg.stageTimeout("rcpt"))
			if err != nil {
				return err
			}
			if resp.code/100 == 2 {
				res := results[entry.pairEmail]
				res.HostExists = true
				res.CatchAll = true
				res.Deliverable = true
				results[entry.pairEmail] = res
				done[entry.pairEmail] = true
				_ = p.cache.Upsert(entry.domain, true, 95)
				i += 2
				continue
			}
			verdict := ClassifyResponse(resp.code, resp.body())
			if verdict.Kind == ErrGreylist {
				pairs[entry.pairEmail].probeGreylisted = true
			} else if resp.code/100 == 5 {
				// A 5xx for a random local-part means the domain is not a
				// catch-all; the paired real recipient still gets probed.
				res := results[entry.pairEmail]
				res.CatchAll = false
				results[entry.pairEmail] = res
			}
			i++
			continue
		}

		// Real-email entry.
		if relaySkipped[entry.domain] {
			res := results[entry.pairEmail]
			res.Error = true
			res.ErrorMsg = "Domain relay blocked"
			res.Deliverable = false
			results[entry.pairEmail] = res
			done[entry.pairEmail] = true
			i++
			continue
		}

		if err := sess.writeLine(p.cfg.stageTimeout("rcpt"), "RCPT TO:<%s>", entry.address); err != nil {
			return err
		}
		resp, err := sess.readResponse(p.cfg.stageTimeout("rcpt"))
		if err != nil {
			return err
		}

		if resp.code/100 == 2 {
			res := results[entry.pairEmail]
			res.HostExists = true
			res.Deliverable = true
			res.Disabled = false
			res.Greylisted = false
			results[entry.pairEmail] = res
			done[entry.pairEmail] = true

			st := pairs[entry.pairEmail]
			confidence := 95
			if st.probeGreylisted {
				confidence = 75
			}
			_ = p.cache.Upsert(entry.domain, false, confidence)
			i++
			continue
		}

		verdict := ClassifyResponse(resp.code, resp.body())
		res := results[entry.pairEmail]
		res.HostExists = true
		switch verdict.Kind {
		case ErrFullInbox:
			res.FullInbox = true
			done[entry.pairEmail] = true
		case ErrBlocked:
			res.Disabled = true
			res.CatchAll = false
			done[entry.pairEmail] = true
		case ErrNotAllowed:
			res.Disabled = true
			res.CatchAll = false
			done[entry.pairEmail] = true
			relayBlocks[entry.domain]++
			if relayBlocks[entry.domain] >= 2 {
				relaySkipped[entry.domain] = true
			}
		case ErrServerUnavailable:
			res.CatchAll = false
			res.Deliverable = false
			done[entry.pairEmail] = true
		case ErrGreylist:
			// Greylisted recipients are handed to the anti-greylist store for
			// backoff retry outside this probe pass, not retried here.
			res.Greylisted = true
			if verdict.RequiresRecheck {
				res.RequiresRecheck = true
			}
			done[entry.pairEmail] = true
		case ErrPermanent:
			res.Deliverable = false
			res.Error = true
			done[entry.pairEmail] = true
		default:
			res.RequiresRecheck = true
			done[entry.pairEmail] = true
		}
		results[entry.pairEmail] = res
		i++
	}

	quitTimeout := p.cfg.stageTimeout("quit")
	_ = sess.writeLine(quitTimeout, "QUIT")
	_, _ = sess.readResponse(quitTimeout)
	return nil
}

func markSessionBlacklisted(seq []probeEntry, results map[string]Result, done map[string]bool) {
	seen := make(map[string]bool)
	for _, e := range seq {
		if seen[e.pairEmail] {
			continue
		}
		seen[e.pairEmail] = true
		if done[e.pairEmail] {
			continue
		}
		res := results[e.pairEmail]
		res.HostExists = true
		res.Disabled = true
		res.CatchAll = false
		results[e.pairEmail] = res
		done[e.pairEmail] = true
	}
}
