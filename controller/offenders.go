package controller

import (
	"strings"

	"github.com/deliverkit/verifier/topk"
)

// OffenderSketchParams configures the sliding-window sketch the
// Controller uses to surface which domains are generating a
// disproportionate share of greylist/blacklist verdicts in the
// current window (operator visibility only; it never gates dispatch).
func OffenderSketchParams() topk.SketchParams {
	return topk.SketchParams{
		K:               16,
		WindowSize:      10,
		Width:           256,
		Depth:           4,
		TickSize:        50,
		MaxSharePercent: 30,
		ActivationRPS:   5,
	}
}

// recordOffenders feeds the domains of greylisted/blacklisted emails
// from a partial completion into the rolling sketch and logs any
// domain whose share of the current window crosses the threshold.
func (c *Controller) recordOffenders(greylisted, blacklisted []string) {
	if c.offenders == nil {
		return
	}
	var outliers []string
	for _, email := range greylisted {
		outliers = append(outliers, c.offenders.ProcessTick("greylist:"+emailDomain(email))...)
	}
	for _, email := range blacklisted {
		outliers = append(outliers, c.offenders.ProcessTick("blacklist:"+emailDomain(email))...)
	}
	for _, o := range outliers {
		c.logger.Warn("controller: domain generating disproportionate greylist/blacklist verdicts", "domain_key", o)
	}
}

func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return strings.ToLower(email[i+1:])
	}
	return email
}
