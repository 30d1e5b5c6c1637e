package discovery

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field limits keep every contract line short enough for a phone card.
const (
	MaxRefusal      = 140
	MaxBecoming     = 140
	MaxProof        = 120
	MaxTest         = 100
	MaxVote         = 80
	MaxRule         = 100
	MaxEvidenceItem = 200
	MinEvidence     = 3
	MaxEvidence     = 7
)

// Evidence is a direct user quote backing the contract.
type Evidence struct {
	Quote        string `json:"quote"`
	ScenarioName string `json:"scenario_name,omitempty"`
	SignalType   string `json:"signal_type,omitempty"`
}

// Contradiction is the stated-versus-actual gap the contract resolves.
type Contradiction struct {
	Stated string `json:"stated"`
	Actual string `json:"actual"`
}

// Contract is the terminal artifact of a session.
type Contract struct {
	Refusal              string         `json:"refusal"`
	Becoming             string         `json:"becoming"`
	Proof                string         `json:"proof"`
	Test                 string         `json:"test"`
	Vote                 string         `json:"vote"`
	Rule                 string         `json:"rule"`
	Evidence             []Evidence     `json:"evidence"`
	MirrorMoment         string         `json:"mirror_moment,omitempty"`
	PrimaryContradiction *Contradiction `json:"primary_contradiction,omitempty"`
}

// Validate checks required fields and length limits.
func (c Contract) Validate() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"refusal", c.Refusal, MaxRefusal},
		{"becoming", c.Becoming, MaxBecoming},
		{"proof", c.Proof, MaxProof},
		{"test", c.Test, MaxTest},
		{"vote", c.Vote, MaxVote},
		{"rule", c.Rule, MaxRule},
	}
	var problems []string
	for _, f := range fields {
		n := utf8.RuneCountInString(strings.TrimSpace(f.value))
		switch {
		case n == 0:
			problems = append(problems, f.name+" is required")
		case n > f.max:
			problems = append(problems, fmt.Sprintf("%s is %d chars (max %d)", f.name, n, f.max))
		}
	}

	if n := len(c.Evidence); n < MinEvidence || n > MaxEvidence {
		problems = append(problems, fmt.Sprintf("evidence needs %d-%d quotes (have %d)", MinEvidence, MaxEvidence, n))
	}
	for i, e := range c.Evidence {
		n := utf8.RuneCountInString(strings.TrimSpace(e.Quote))
		if n == 0 || n > MaxEvidenceItem {
			problems = append(problems, fmt.Sprintf("evidence[%d] quote must be 1-%d chars", i, MaxEvidenceItem))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid contract: %s", strings.Join(problems, "; "))
	}
	return nil
}
