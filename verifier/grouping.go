package verifier

import (
	"github.com/deliverkit/verifier/db"
	"github.com/deliverkit/verifier/mx"
	"github.com/deliverkit/verifier/smtp"
)

// orgGroup is the per-organization bucket: every email whose
// lowest-preference MX classified into org, plus the Processing
// Profile that governs how it gets sub-batched and rate limited.
type orgGroup struct {
	org     mx.Organization
	profile mx.Profile
	emails  []string
}

// groupByOrg buckets every quick-checked email that has MX records (and
// wasn't resolved by a specialized path) by its lowest-preference MX's
// organization.
func groupByOrg(objs map[string]*db.VerificationObj) map[mx.Organization]*orgGroup {
	groups := make(map[mx.Organization]*orgGroup)
	for email, obj := range objs {
		if !obj.HasMXRecords || len(obj.MX) == 0 {
			continue
		}
		host, ok := mx.LowestPref(obj.MX)
		if !ok {
			continue
		}
		org, profile := mx.Classify(host.Host)
		g, exists := groups[org]
		if !exists {
			g = &orgGroup{org: org, profile: profile}
			groups[org] = g
		}
		g.emails = append(g.emails, email)
	}
	return groups
}

// domainBatch is one sub-batch the SMTP probe is asked to check: a
// shared recipient domain (and therefore a shared MX host chain) plus
// the rate-limit key the Processing Profile's GroupBy assigns it.
type domainBatch struct {
	domain     string
	mxHosts    []string
	recipients []smtp.Recipient
	limiterKey string
}

// subBatches splits an org group into per-recipient-domain batches
// (an SMTP session always targets one domain's own MX chain), sized
// to the profile's BatchSize — forced down to 1 when the domain's
// lowest MX host matches the single-recipient-per-session hint list,
// even if the classified profile's BatchSize says otherwise.
func subBatches(g *orgGroup, objs map[string]*db.VerificationObj) []domainBatch {
	byDomain := make(map[string][]string)
	hostsByDomain := make(map[string][]string)
	for _, email := range g.emails {
		obj := objs[email]
		domain := obj.Syntax.Domain
		byDomain[domain] = append(byDomain[domain], email)
		if hostsByDomain[domain] == nil {
			for _, rec := range obj.MX {
				hostsByDomain[domain] = append(hostsByDomain[domain], rec.Host)
			}
		}
	}

	var out []domainBatch
	for domain, emails := range byDomain {
		hosts := hostsByDomain[domain]
		batchSize := g.profile.BatchSize
		if len(hosts) > 0 && mx.IsSingleRecipientHost(hosts[0]) {
			batchSize = 1
		}
		if batchSize < 1 {
			batchSize = 1
		}

		for start := 0; start < len(emails); start += batchSize {
			end := start + batchSize
			if end > len(emails) {
				end = len(emails)
			}
			recipients := make([]smtp.Recipient, 0, end-start)
			for _, e := range emails[start:end] {
				recipients = append(recipients, smtp.Recipient{Email: e, Domain: domain})
			}
			out = append(out, domainBatch{
				domain:     domain,
				mxHosts:    hosts,
				recipients: recipients,
				limiterKey: limiterKey(g, domain, hosts),
			})
		}
	}
	return out
}

// limiterKey picks the rate-limiter sharing granularity the profile's
// GroupBy names: the whole organization, the specific MX host, or the
// recipient domain alone.
func limiterKey(g *orgGroup, domain string, hosts []string) string {
	switch g.profile.GroupBy {
	case mx.GroupByMXDomain:
		if len(hosts) > 0 {
			return string(g.org) + "|" + hosts[0]
		}
		return string(g.org) + "|" + domain
	case mx.GroupByDomain:
		return string(g.org) + "|" + domain
	default: // mx.GroupByOrganization
		return string(g.org)
	}
}
