// Package discovery holds the core model of a discovery session: phases,
// signals, domain coverage, density and the phase state machine.
//
// Everything here is pure: no storage, no goroutines. Persistence lives in
// internal/store and orchestration in internal/engine.
//
// Layout:
// - types.go: enums and the construct taxonomy
// - signal.go: signal construction and validation
// - phase.go: state machine and forced transitions
// - coverage.go / density.go / health.go: derived views and gates
package discovery

import (
	"fmt"
	"strings"
)

// --- Phase enum ---

// Phase is one of the four ordered stages of a session.
type Phase string

const (
	PhaseScenario   Phase = "SCENARIO"
	PhaseExcavation Phase = "EXCAVATION"
	PhaseSynthesis  Phase = "SYNTHESIS"
	PhaseContract   Phase = "CONTRACT"
)

// PhaseOrder is the fixed, linear phase sequence.
var PhaseOrder = []Phase{
	PhaseScenario,
	PhaseExcavation,
	PhaseSynthesis,
	PhaseContract,
}

// ValidatePhase returns an error if the phase is not recognized.
func ValidatePhase(p Phase) error {
	if PhaseIndex(p) < 0 {
		return fmt.Errorf("%w %q: must be one of: SCENARIO, EXCAVATION, SYNTHESIS, CONTRACT", ErrInvalidPhase, p)
	}
	return nil
}

// ParsePhase normalizes user input ("synthesis", " Synthesis ") into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if err := ValidatePhase(p); err != nil {
		return "", err
	}
	return p, nil
}

// --- Domain enum ---

// Domain is one of the seven signal categories.
type Domain string

const (
	DomainValue       Domain = "VALUE"
	DomainNeed        Domain = "NEED"
	DomainMotive      Domain = "MOTIVE"
	DomainDefense     Domain = "DEFENSE"
	DomainAttachment  Domain = "ATTACHMENT"
	DomainDevelopment Domain = "DEVELOPMENT"
	DomainPattern     Domain = "PATTERN"
)

// DomainOrder is the display order used by summaries.
var DomainOrder = []Domain{
	DomainValue,
	DomainNeed,
	DomainMotive,
	DomainDefense,
	DomainAttachment,
	DomainDevelopment,
	DomainPattern,
}

// RequiredDomains must each have at least one high-confidence signal
// before synthesis.
var RequiredDomains = []Domain{DomainValue, DomainNeed}

// OptionalDomains must contribute at least one high-confidence signal
// between them before synthesis.
var OptionalDomains = []Domain{
	DomainDefense,
	DomainPattern,
	DomainAttachment,
	DomainDevelopment,
	DomainMotive,
}

// constructs lists the allowed signal types per domain. PATTERN is
// free-form and has no entry.
var constructs = map[Domain][]string{
	DomainValue: {
		"POWER", "ACHIEVEMENT", "HEDONISM", "STIMULATION", "SELF_DIRECTION",
		"UNIVERSALISM", "BENEVOLENCE", "TRADITION", "CONFORMITY", "SECURITY",
	},
	DomainNeed:   {"AUTONOMY", "COMPETENCE", "RELATEDNESS"},
	DomainMotive: {"ACHIEVEMENT", "POWER", "AFFILIATION"},
	DomainDefense: {
		"DENIAL", "PROJECTION", "DISPLACEMENT", "RATIONALIZATION",
		"INTELLECTUALIZATION", "SUBLIMATION", "HUMOR", "ANTICIPATION",
	},
	DomainAttachment:  {"SECURE", "ANXIOUS", "AVOIDANT", "DISORGANIZED"},
	DomainDevelopment: {"SOCIALIZED", "SELF_AUTHORING", "SELF_TRANSFORMING"},
}

// ValidateDomain returns an error if the domain is not recognized.
func ValidateDomain(d Domain) error {
	for _, known := range DomainOrder {
		if d == known {
			return nil
		}
	}
	return fmt.Errorf("invalid domain %q: must be one of: %s", d, joinDomains(DomainOrder))
}

// Constructs returns the allowed types for a domain, or nil for PATTERN.
func Constructs(d Domain) []string {
	return constructs[d]
}

// --- Signal state enum ---

// SignalState qualifies NEED (satisfied/frustrated) and DEVELOPMENT
// (stable/transitioning) signals. Other domains never carry a state.
type SignalState string

const (
	StateSatisfied     SignalState = "SATISFIED"
	StateFrustrated    SignalState = "FRUSTRATED"
	StateStable        SignalState = "STABLE"
	StateTransitioning SignalState = "TRANSITIONING"
)

// statesByDomain is the set of domains that define a state, and their values.
var statesByDomain = map[Domain]map[SignalState]bool{
	DomainNeed:        {StateSatisfied: true, StateFrustrated: true},
	DomainDevelopment: {StateStable: true, StateTransitioning: true},
}

// --- Supporting enums ---

// EmotionalContext is the tone in which a signal was revealed.
type EmotionalContext string

const (
	EmotionNeutral    EmotionalContext = "NEUTRAL"
	EmotionDefensive  EmotionalContext = "DEFENSIVE"
	EmotionVulnerable EmotionalContext = "VULNERABLE"
	EmotionResistant  EmotionalContext = "RESISTANT"
	EmotionOpen       EmotionalContext = "OPEN"
	EmotionConflicted EmotionalContext = "CONFLICTED"
)

var validEmotions = map[EmotionalContext]bool{
	EmotionNeutral:    true,
	EmotionDefensive:  true,
	EmotionVulnerable: true,
	EmotionResistant:  true,
	EmotionOpen:       true,
	EmotionConflicted: true,
}

// LifeDomain is the area of life a signal applies to.
type LifeDomain string

const (
	LifeWork           LifeDomain = "WORK"
	LifeRelationships  LifeDomain = "RELATIONSHIPS"
	LifeHealth         LifeDomain = "HEALTH"
	LifePersonalGrowth LifeDomain = "PERSONAL_GROWTH"
	LifeFinance        LifeDomain = "FINANCE"
	LifeGeneral        LifeDomain = "GENERAL"
)

var validLifeDomains = map[LifeDomain]bool{
	LifeWork:           true,
	LifeRelationships:  true,
	LifeHealth:         true,
	LifePersonalGrowth: true,
	LifeFinance:        true,
	LifeGeneral:        true,
}

func joinDomains(ds []Domain) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}
