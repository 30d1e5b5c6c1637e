package discovery

import (
	"fmt"
	"strings"
)

// CoverageConfidence is the confidence a signal must exceed to count
// toward domain coverage. It is deliberately lower than HighConfidence.
const CoverageConfidence = 0.6

// probeHints steer the generation capability toward a missing domain.
var probeHints = map[Domain]string{
	DomainValue:       "what matters to them",
	DomainNeed:        "frustrated needs",
	DomainMotive:      "what drives them to act",
	DomainDefense:     "how they explain away discomfort",
	DomainAttachment:  "how they lean on or avoid others",
	DomainDevelopment: "where their sense of self is shifting",
	DomainPattern:     "behaviors that repeat across scenarios",
}

// Coverage is the derived readiness view over a session's signals.
type Coverage struct {
	Counts          map[Domain]int `json:"counts"`
	RequiredMet     bool           `json:"required_met"`
	OptionalMet     bool           `json:"optional_met"`
	MissingRequired []Domain       `json:"missing_required,omitempty"`
	Recommendation  string         `json:"recommendation,omitempty"`
}

// Ready reports whether coverage allows synthesis.
func (c Coverage) Ready() bool {
	return c.RequiredMet && c.OptionalMet
}

// CheckCoverage buckets signals above CoverageConfidence by domain and
// checks the required and optional sets.
func CheckCoverage(signals []Signal) Coverage {
	counts := make(map[Domain]int, len(DomainOrder))
	for _, d := range DomainOrder {
		counts[d] = 0
	}
	for _, s := range signals {
		if s.Confidence > CoverageConfidence {
			counts[s.Domain]++
		}
	}

	cov := Coverage{Counts: counts, RequiredMet: true}
	for _, d := range RequiredDomains {
		if counts[d] == 0 {
			cov.RequiredMet = false
			cov.MissingRequired = append(cov.MissingRequired, d)
		}
	}
	for _, d := range OptionalDomains {
		if counts[d] > 0 {
			cov.OptionalMet = true
			break
		}
	}

	switch {
	case !cov.RequiredMet:
		hints := make([]string, len(cov.MissingRequired))
		for i, d := range cov.MissingRequired {
			hints[i] = probeHints[d]
		}
		cov.Recommendation = fmt.Sprintf("Missing required domains: %s. Probe for %s.",
			joinDomains(cov.MissingRequired), strings.Join(hints, " and "))
	case !cov.OptionalMet:
		cov.Recommendation = "Need at least one of: DEFENSE, PATTERN, ATTACHMENT, DEVELOPMENT, or MOTIVE signals."
	}

	return cov
}

// DomainsCovered counts the distinct domains among all signals,
// regardless of confidence.
func DomainsCovered(signals []Signal) int {
	seen := make(map[Domain]bool)
	for _, s := range signals {
		seen[s.Domain] = true
	}
	return len(seen)
}

// CoveragePromptInjection returns the alert text for the context
// assembler, or "" when coverage is complete.
func CoveragePromptInjection(c Coverage) string {
	if c.Ready() {
		return ""
	}
	return "DOMAIN COVERAGE: " + c.Recommendation
}
