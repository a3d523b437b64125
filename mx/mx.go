// Package mx resolves a domain's MX records and classifies the owning
// organization into a Processing Profile that governs how the SMTP
// probe batches and rate-limits its checks against that host.
package mx

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"github.com/deliverkit/verifier/db"
)

// Organization labels a classified MX host.
type Organization string

const (
	OrgGoogle                     Organization = "google"
	OrgMicrosoft                  Organization = "microsoft"
	OrgYahoo                      Organization = "yahoo"
	OrgApple                      Organization = "apple"
	OrgProtonMail                 Organization = "protonmail"
	OrgFastmail                   Organization = "fastmail"
	OrgZoho                       Organization = "zoho"
	OrgYandex                     Organization = "yandex"
	OrgMailRu                     Organization = "mailru"
	OrgGMX                        Organization = "gmx"
	OrgMailgun                    Organization = "mailgun"
	OrgSendGrid                   Organization = "sendgrid"
	OrgAmazonSES                  Organization = "amazon_ses"
	OrgBusinessSMTPStandard       Organization = "business_smtp_standard"
	OrgStandard                   Organization = "standard"
	OrgUnknownMXConservative      Organization = "unknown_mx_conservative"
	OrgUnknownMXUltraConservative Organization = "unknown_mx_ultra_conservative"
)

// GroupBy values for Profile.GroupBy.
const (
	GroupByOrganization = "organization"
	GroupByMXDomain     = "mx_domain"
	GroupByDomain       = "domain"
)

// Method values for Profile.Method.
const (
	MethodSMTPVerification     = "smtp_verification"
	MethodMicrosoftLoginVerify = "microsoft_login_verification"
	MethodYahooAlternateVerify = "yahoo_alternate_verification"
)

// Profile is a Processing Profile: the batching/rate-limit policy an
// organization's mail infrastructure is verified under.
type Profile struct {
	BatchSize           int
	ParallelConnections int
	DelayBetweenBatches time.Duration
	MaxRetries          int
	Timeout             time.Duration
	RateLimit           RateLimit
	GroupBy             string
	Method              string
}

type RateLimit struct {
	RequestsPerSecond float64
	BurstLimit        int
}

// rule matches a lowered MX hostname against a substring catalog and
// maps it to an organization and profile.
type rule struct {
	org      Organization
	matchers []string
	profile  Profile
}

var catalog = []rule{
	{OrgGoogle, []string{"google.com", "googlemail.com", "aspmx.l.google.com"}, Profile{
		BatchSize: 1, ParallelConnections: 2, DelayBetweenBatches: 500 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 2, BurstLimit: 4},
		GroupBy:   GroupByDomain, Method: MethodSMTPVerification,
	}},
	{OrgMicrosoft, []string{"outlook.com", "protection.outlook.com", "hotmail.com"}, Profile{
		BatchSize: 1, ParallelConnections: 2, DelayBetweenBatches: 750 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1.5, BurstLimit: 3},
		GroupBy:   GroupByDomain, Method: MethodMicrosoftLoginVerify,
	}},
	{OrgYahoo, []string{"yahoodns.net", "yahoo.com"}, Profile{
		BatchSize: 5, ParallelConnections: 2, DelayBetweenBatches: 1 * time.Second,
		MaxRetries: 2, Timeout: 20 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1, BurstLimit: 2},
		GroupBy:   GroupByOrganization, Method: MethodYahooAlternateVerify,
	}},
	{OrgApple, []string{"icloud.com"}, Profile{
		BatchSize: 1, ParallelConnections: 1, DelayBetweenBatches: 1 * time.Second,
		MaxRetries: 1, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1, BurstLimit: 2},
		GroupBy:   GroupByDomain, Method: MethodSMTPVerification,
	}},
	{OrgProtonMail, []string{"protonmail.ch", "proton.me"}, Profile{
		BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 500 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 2, BurstLimit: 4},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgFastmail, []string{"messagingengine.com"}, Profile{
		BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 500 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 2, BurstLimit: 4},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgZoho, []string{"zoho.com", "zohomail.com"}, Profile{
		BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 500 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 2, BurstLimit: 4},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgYandex, []string{"yandex.net", "yandex.ru"}, Profile{
		BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 750 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1.5, BurstLimit: 3},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgMailRu, []string{"mail.ru"}, Profile{
		BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 750 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1.5, BurstLimit: 3},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgGMX, []string{"gmx.net", "gmx.com"}, Profile{
		BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 750 * time.Millisecond,
		MaxRetries: 2, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1.5, BurstLimit: 3},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgMailgun, []string{"mailgun.org"}, Profile{
		BatchSize: 20, ParallelConnections: 4, DelayBetweenBatches: 200 * time.Millisecond,
		MaxRetries: 3, Timeout: 10 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 5, BurstLimit: 10},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgSendGrid, []string{"sendgrid.net"}, Profile{
		BatchSize: 20, ParallelConnections: 4, DelayBetweenBatches: 200 * time.Millisecond,
		MaxRetries: 3, Timeout: 10 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 5, BurstLimit: 10},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
	{OrgAmazonSES, []string{"amazonses.com", "amazonaws.com"}, Profile{
		BatchSize: 20, ParallelConnections: 4, DelayBetweenBatches: 200 * time.Millisecond,
		MaxRetries: 3, Timeout: 10 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 5, BurstLimit: 10},
		GroupBy:   GroupByOrganization, Method: MethodSMTPVerification,
	}},
}

var businessSMTPHints = []string{"mx.", "mail.", "smtp.", "mxlogic.net", "barracudanetworks.com", "mimecast.com", "proofpoint.com"}

// mxSingleRecipientHints marks hosts known to penalize or drop
// multi-recipient sessions; the Verifier Worker's sub-batching probes
// these one recipient per session.
var mxSingleRecipientHints = []string{"google.com", ".protection.outlook.com", "icloud.com"}

// IsSingleRecipientHost reports whether mxHost's pattern indicates it
// should be probed one recipient per session.
func IsSingleRecipientHost(mxHost string) bool {
	lower := strings.ToLower(mxHost)
	for _, hint := range mxSingleRecipientHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Classify maps a lowered MX hostname to an organization label and its
// Processing Profile, falling back to standard/unknown tiers.
func Classify(mxHost string) (Organization, Profile) {
	lower := strings.ToLower(mxHost)
	for _, r := range catalog {
		for _, m := range r.matchers {
			if strings.Contains(lower, m) {
				return r.org, r.profile
			}
		}
	}
	for _, hint := range businessSMTPHints {
		if strings.Contains(lower, hint) {
			return OrgBusinessSMTPStandard, Profile{
				BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 1 * time.Second,
				MaxRetries: 2, Timeout: 15 * time.Second,
				RateLimit: RateLimit{RequestsPerSecond: 1, BurstLimit: 2},
				GroupBy:   GroupByMXDomain, Method: MethodSMTPVerification,
			}
		}
	}
	if lower == "" {
		return OrgUnknownMXUltraConservative, Profile{
			BatchSize: 1, ParallelConnections: 1, DelayBetweenBatches: 3 * time.Second,
			MaxRetries: 1, Timeout: 20 * time.Second,
			RateLimit: RateLimit{RequestsPerSecond: 0.5, BurstLimit: 1},
			GroupBy:   GroupByDomain, Method: MethodSMTPVerification,
		}
	}
	if standardHostRe.MatchString(strings.TrimSuffix(lower, ".")) {
		return OrgStandard, Profile{
			BatchSize: 10, ParallelConnections: 2, DelayBetweenBatches: 1 * time.Second,
			MaxRetries: 2, Timeout: 15 * time.Second,
			RateLimit: RateLimit{RequestsPerSecond: 1, BurstLimit: 2},
			GroupBy:   GroupByMXDomain, Method: MethodSMTPVerification,
		}
	}
	return OrgUnknownMXConservative, Profile{
		BatchSize: 5, ParallelConnections: 1, DelayBetweenBatches: 2 * time.Second,
		MaxRetries: 1, Timeout: 15 * time.Second,
		RateLimit: RateLimit{RequestsPerSecond: 1, BurstLimit: 1},
		GroupBy:   GroupByMXDomain, Method: MethodSMTPVerification,
	}
}

// standardHostRe accepts a well-formed multi-label hostname. A host
// that matches but fits no catalog entry is an ordinary standalone
// exchanger and gets the standard profile; anything that doesn't even
// look like a hostname (single label, stray characters) falls to the
// unknown-MX conservative tier.
var standardHostRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// Resolve looks up domain's MX records with a race timeout, returning
// them sorted by preference (lowest first). An IDNA-normalized query
// name is used so internationalized domains resolve correctly.
func Resolve(ctx context.Context, domain string, raceTimeout time.Duration) ([]db.MXRecord, error) {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		ascii = domain
	}

	ctx, cancel := context.WithTimeout(ctx, raceTimeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(ascii), dns.TypeMX)

	c := new(dns.Client)
	c.Timeout = raceTimeout

	in, _, err := c.ExchangeContext(ctx, m, resolverAddr())
	if err != nil {
		return nil, err
	}

	var records []db.MXRecord
	for _, ans := range in.Answer {
		if mxRec, ok := ans.(*dns.MX); ok {
			records = append(records, db.MXRecord{Host: strings.TrimSuffix(mxRec.Mx, "."), Pref: int(mxRec.Preference)})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	return records, nil
}

// resolverAddr returns the system resolver's nameserver:port, falling
// back to a public resolver when /etc/resolv.conf can't be read (e.g.
// non-Linux hosts in test).
func resolverAddr() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return cfg.Servers[0] + ":" + cfg.Port
}

// LowestPref returns the lowest-preference MX host from records, the
// one the Verifier Worker groups by for organization classification.
func LowestPref(records []db.MXRecord) (db.MXRecord, bool) {
	if len(records) == 0 {
		return db.MXRecord{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Pref < best.Pref {
			best = r
		}
	}
	return best, true
}
