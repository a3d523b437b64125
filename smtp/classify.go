// Package smtp drives a single SMTP session against one MX host to
// probe a batch of recipients. This file holds the keyword/status
// classification tables the response parser matches against.
package smtp

import (
	"regexp"
	"strings"
)

// Greylist keyword confidence tiers.
var (
	highConfidenceGreylistKeywords   = []string{"greylist", "graylist", "silverlisting"}
	mediumConfidenceGreylistKeywords = []string{
		"temporarily", "temporary", "deferred", "try again", "retry later",
	}
	lowConfidenceGreylistKeywords = []string{
		"delay", "retry", "service refuse", "relay access denied",
	}
	antiGreylistKeywords = []string{
		"storage", "full", "quota", "space", "disk",
		"mailbox full", "over quota", "insufficient storage",
	}
)

var serverGreylistPatterns = map[string]*regexp.Regexp{
	"google":    regexp.MustCompile(`temporarily_rejected|rate.?limit|receiving mail at a rate|rate.*prevent`),
	"outlook":   regexp.MustCompile(`server.?busy|throttl`),
	"yahoo":     regexp.MustCompile(`rate.?limit|defer`),
	"microsoft": regexp.MustCompile(`throttl|busy`),
}

var blacklistKeywords = []string{
	"spamhaus", "proofpoint", "cloudmark", "banned", "blacklisted", "block",
	"poor reputation", "junkmail", "spam", "prohibit", "forbid", "disallow",
	"score too low", "connection rejected", "connection refused",
	"dnsbl", "rbl", "rtbl", "rpbl", "snbl", "sbrs", "senderscore",
}

var notAllowedKeywords = []string{"not allowed", "relay access denied"}

var invalidRecipientKeywords = []string{
	"undeliverable", "does not exist", "user unknown", "user not found",
	"invalid address", "invalid recipient", "recipient rejected", "no mailbox",
	"unknown recipient", "no such user", "address not found", "mailbox not found",
	"non-existent user", "mailbox unavailable", "cannot deliver to",
	"no such recipient", "no such address",
}

func containsAny(lower string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// GreylistVerdict is the result of the greylist analysis pass over one
// server response.
type GreylistVerdict struct {
	IsGreylisted bool
	Reason       string
	Confidence   int
	ShouldRetry  bool
}

// AnalyzeGreylist classifies a response body against the keyword/regex
// catalog above, gated by code for the medium/low tiers. Anti-pattern
// matches (storage/quota language) always win over a greylist verdict,
// since a full mailbox is never a greylist deferral.
func AnalyzeGreylist(code int, message string) GreylistVerdict {
	lower := strings.ToLower(message)

	if kw, ok := containsAny(lower, antiGreylistKeywords); ok {
		return GreylistVerdict{Reason: "anti-pattern:" + kw}
	}

	if kw, ok := containsAny(lower, highConfidenceGreylistKeywords); ok {
		return GreylistVerdict{IsGreylisted: true, Confidence: 90, Reason: "keyword:" + kw, ShouldRetry: true}
	}
	for name, re := range serverGreylistPatterns {
		if re.MatchString(lower) {
			return GreylistVerdict{IsGreylisted: true, Confidence: 80, Reason: "server:" + name, ShouldRetry: true}
		}
	}

	statusQualifies := code == 421 || code == 450 || code == 451
	if statusQualifies {
		if kw, ok := containsAny(lower, mediumConfidenceGreylistKeywords); ok {
			return GreylistVerdict{IsGreylisted: true, Confidence: 65, Reason: "keyword:" + kw, ShouldRetry: true}
		}
		if kw, ok := containsAny(lower, lowConfidenceGreylistKeywords); ok {
			return GreylistVerdict{Confidence: 40, Reason: "keyword:" + kw}
		}
	}
	return GreylistVerdict{}
}

// qualifies is the acceptance rule for acting on a greylist verdict:
// confidence ≥ 50 AND a 4xx greylist-eligible status, OR a
// high-confidence hit regardless of status code.
func (v GreylistVerdict) qualifies(code int) bool {
	if !v.IsGreylisted {
		return false
	}
	if v.Confidence >= 80 {
		return true
	}
	statusQualifies := code == 421 || code == 450 || code == 451
	return v.Confidence >= 50 && statusQualifies
}

// ErrorKind enumerates the bucketed outcomes a classified response maps
// a recipient to.
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrFullInbox
	ErrBlocked
	ErrNotAllowed
	ErrServerUnavailable
	ErrGreylist
	ErrPermanent
	ErrUnknown
)

// ErrorVerdict is the result of classifying one non-2xx response.
type ErrorVerdict struct {
	Kind            ErrorKind
	Confidence      int
	ShouldRetry     bool
	RequiresRecheck bool
	Message         string
}

// ClassifyResponse maps a status code and response body to an
// ErrorKind bucket, in the priority order: full-inbox
// phrasing, blacklist/relay-block phrasing, invalid-recipient phrasing
// (5xx only), greylist analysis, then a fallback between permanent (5xx)
// and unknown/protocol error.
func ClassifyResponse(code int, message string) ErrorVerdict {
	lower := strings.ToLower(message)

	if _, ok := containsAny(lower, antiGreylistKeywords); ok {
		return ErrorVerdict{Kind: ErrFullInbox, Confidence: 90, Message: message}
	}

	if kw, ok := containsAny(lower, notAllowedKeywords); ok {
		return ErrorVerdict{Kind: ErrNotAllowed, Confidence: 90, Message: "relay blocked: " + kw}
	}
	if kw, ok := containsAny(lower, blacklistKeywords); ok {
		return ErrorVerdict{Kind: ErrBlocked, Confidence: 90, Message: "blacklist indicator: " + kw}
	}

	is5xx := code >= 500 && code < 600
	if is5xx {
		if kw, ok := containsAny(lower, invalidRecipientKeywords); ok {
			return ErrorVerdict{Kind: ErrServerUnavailable, Confidence: 85, Message: "invalid recipient: " + kw}
		}
	}

	gv := AnalyzeGreylist(code, message)
	if gv.qualifies(code) {
		return ErrorVerdict{
			Kind:            ErrGreylist,
			Confidence:      gv.Confidence,
			ShouldRetry:     gv.ShouldRetry,
			RequiresRecheck: gv.Confidence >= 75,
			Message:         gv.Reason,
		}
	}

	if is5xx {
		return ErrorVerdict{Kind: ErrPermanent, Message: message}
	}
	return ErrorVerdict{Kind: ErrUnknown, RequiresRecheck: true, Message: message}
}

// IsRelayBlocked reports whether verdict represents a relay-access-denied
// hit, the trigger for the probe's per-domain relay-block counter.
func (v ErrorVerdict) IsRelayBlocked() bool {
	return v.Kind == ErrNotAllowed
}
