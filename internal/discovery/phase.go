package discovery

import "fmt"

// --- State machine for the discovery phases ---
//
// Phases form a strict line: SCENARIO → EXCAVATION → SYNTHESIS → CONTRACT.
// CanTransition only evaluates; applying the move is the caller's job and
// must be a compare-and-set on the stored phase.

// Thresholds holds the numeric guards of the state machine.
type Thresholds struct {
	MinScenarios          int `mapstructure:"min_scenarios" toml:"min_scenarios"`
	MinHighConfidence     int `mapstructure:"min_high_confidence" toml:"min_high_confidence"`
	MinSignalsForContract int `mapstructure:"min_signals_for_contract" toml:"min_signals_for_contract"`
	ForceSynthesisAbove   int `mapstructure:"force_synthesis_above" toml:"force_synthesis_above"`
}

// DefaultThresholds returns the standard guard values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinScenarios:          1,
		MinHighConfidence:     5,
		MinSignalsForContract: 8,
		ForceSynthesisAbove:   12,
	}
}

// TransitionContext is the evidence a transition decision is made from.
// PendingExtractions is the barrier count: jobs not yet terminal.
type TransitionContext struct {
	SignalCount           int
	HighConfidenceSignals int
	ScenariosExplored     int
	UserOverride          bool
	Coverage              Coverage
	PendingExtractions    int
	BarrierMessage        string
}

// TransitionResult is an allow/deny decision. Denials are values, not
// errors: Reason and Recommendation are meant to be fed back to the
// generation capability.
type TransitionResult struct {
	Allowed            bool   `json:"allowed"`
	Reason             string `json:"reason,omitempty"`
	Recommendation     string `json:"recommendation,omitempty"`
	PendingExtractions int    `json:"pending_extractions,omitempty"`
}

func deny(reason string) TransitionResult {
	return TransitionResult{Allowed: false, Reason: reason}
}

// PhaseIndex returns the ordinal of a phase, or -1 if unknown.
func PhaseIndex(p Phase) int {
	for i, known := range PhaseOrder {
		if known == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase after p, or "" when p is terminal or unknown.
func NextPhase(p Phase) Phase {
	idx := PhaseIndex(p)
	if idx < 0 || idx >= len(PhaseOrder)-1 {
		return ""
	}
	return PhaseOrder[idx+1]
}

// IsTerminal reports whether p is the last phase.
func IsTerminal(p Phase) bool {
	return PhaseIndex(p) == len(PhaseOrder)-1
}

// PhaseProgress returns how far through the sequence p is, as 0-100.
func PhaseProgress(p Phase) int {
	idx := PhaseIndex(p)
	if idx < 0 {
		return 0
	}
	return idx * 100 / (len(PhaseOrder) - 1)
}

// CanTransition checks whether a session may move from one phase to
// another given the current evidence.
func CanTransition(from, to Phase, ctx TransitionContext, th Thresholds) TransitionResult {
	fromIdx, toIdx := PhaseIndex(from), PhaseIndex(to)
	if fromIdx < 0 {
		return deny(fmt.Sprintf("Unknown current phase %q", from))
	}
	if toIdx < 0 {
		return deny(fmt.Sprintf("Unknown target phase %q", to))
	}
	if toIdx == fromIdx {
		return deny(fmt.Sprintf("Already in phase %s", from))
	}
	if toIdx < fromIdx {
		return deny("Cannot return to previous phases")
	}
	if toIdx > fromIdx+1 && !ctx.UserOverride {
		return deny("Must complete each phase in order")
	}

	switch to {
	case PhaseExcavation:
		if ctx.ScenariosExplored < th.MinScenarios {
			return deny("Explore at least one scenario first")
		}

	case PhaseSynthesis:
		if res := synthesisReadiness(ctx); !res.Allowed {
			return res
		}
		if !ctx.UserOverride && ctx.HighConfidenceSignals < th.MinHighConfidence {
			return TransitionResult{
				Reason: fmt.Sprintf("Need %d+ high-confidence signals (have %d)",
					th.MinHighConfidence, ctx.HighConfidenceSignals),
				Recommendation: "Keep excavating: ask for concrete examples and extract a signal after every meaningful answer.",
			}
		}

	case PhaseContract:
		if !ctx.UserOverride && ctx.SignalCount < th.MinSignalsForContract {
			return deny(fmt.Sprintf("Need %d+ signals for contract (have %d)",
				th.MinSignalsForContract, ctx.SignalCount))
		}
	}

	return TransitionResult{Allowed: true, Reason: fmt.Sprintf("Advancing from %s to %s", from, to)}
}

// CheckSynthesisReadiness runs the coverage and barrier checks that every
// move into SYNTHESIS must pass, including forced ones. Override does not
// bypass them.
func CheckSynthesisReadiness(ctx TransitionContext) TransitionResult {
	res := synthesisReadiness(ctx)
	if res.Allowed {
		res.Reason = "Coverage and extraction barrier satisfied"
	}
	return res
}

func synthesisReadiness(ctx TransitionContext) TransitionResult {
	if !ctx.Coverage.RequiredMet {
		return TransitionResult{
			Reason:         fmt.Sprintf("Missing required domain %s", joinDomains(ctx.Coverage.MissingRequired)),
			Recommendation: ctx.Coverage.Recommendation,
		}
	}
	if !ctx.Coverage.OptionalMet {
		return TransitionResult{
			Reason:         "No signals in any optional domain",
			Recommendation: ctx.Coverage.Recommendation,
		}
	}
	if ctx.PendingExtractions > 0 {
		msg := ctx.BarrierMessage
		if msg == "" {
			msg = fmt.Sprintf("Waiting for %d extraction(s) to complete before synthesis.", ctx.PendingExtractions)
		}
		return TransitionResult{
			Reason:             msg,
			Recommendation:     "Continue the conversation briefly, then request the transition again.",
			PendingExtractions: ctx.PendingExtractions,
		}
	}
	return TransitionResult{Allowed: true}
}

// --- Forced transitions ---

// ForceContext is the input to ShouldForceTransition.
type ForceContext struct {
	CurrentPhase         Phase
	SignalCount          int
	UserRequestedAdvance bool
}

// ForcedTransition describes a move that hard triggers demand.
type ForcedTransition struct {
	To     Phase  `json:"to"`
	Reason string `json:"reason"`
}

// ShouldForceTransition evaluates hard triggers independent of the
// generation capability's judgment. It returns nil when nothing is forced.
// A forced move into SYNTHESIS must still pass CheckSynthesisReadiness.
func ShouldForceTransition(ctx ForceContext, th Thresholds) *ForcedTransition {
	if ctx.CurrentPhase == PhaseExcavation && ctx.SignalCount > th.ForceSynthesisAbove {
		return &ForcedTransition{
			To:     PhaseSynthesis,
			Reason: fmt.Sprintf("Signal extraction complete (>%d signals)", th.ForceSynthesisAbove),
		}
	}

	if ctx.UserRequestedAdvance {
		if next := NextPhase(ctx.CurrentPhase); next != "" {
			return &ForcedTransition{To: next, Reason: "User requested to advance"}
		}
	}

	return nil
}
