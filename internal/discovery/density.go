package discovery

import "fmt"

// DensityConfig controls the density monitor and the synthesis gate.
type DensityConfig struct {
	Window                 int     `mapstructure:"window" toml:"window"`
	MinSignalsPerWindow    int     `mapstructure:"min_signals_per_window" toml:"min_signals_per_window"`
	CriticalAfterTurns     int     `mapstructure:"critical_after_turns" toml:"critical_after_turns"`
	CriticalRate           float64 `mapstructure:"critical_rate" toml:"critical_rate"`
	MinSignalsForSynthesis int     `mapstructure:"min_signals_for_synthesis" toml:"min_signals_for_synthesis"`
	HighConfidenceDivisor  int     `mapstructure:"high_confidence_divisor" toml:"high_confidence_divisor"`
}

// DefaultDensityConfig returns the standard density settings.
func DefaultDensityConfig() DensityConfig {
	return DensityConfig{
		Window:                 5,
		MinSignalsPerWindow:    2,
		CriticalAfterTurns:     10,
		CriticalRate:           0.3,
		MinSignalsForSynthesis: 10,
		HighConfidenceDivisor:  3,
	}
}

// DensityStats is the derived extraction-rate view of a session.
type DensityStats struct {
	TotalSignals   int     `json:"total_signals"`
	TotalTurns     int     `json:"total_turns"`
	WindowSignals  int     `json:"window_signals"`
	WindowTurns    int     `json:"window_turns"`
	SignalsPerTurn float64 `json:"signals_per_turn"`
	RecentDensity  float64 `json:"recent_density"`
	LowRecent      bool    `json:"low_recent"`
	Critical       bool    `json:"critical"`
	Alert          string  `json:"alert,omitempty"`
}

// CheckDensity computes lifetime and trailing-window extraction rates.
// A signal belongs to the window when it was created during one of the
// last Window turns.
func CheckDensity(signals []Signal, totalTurns int, cfg DensityConfig) DensityStats {
	st := DensityStats{TotalSignals: len(signals), TotalTurns: totalTurns}
	if totalTurns <= 0 {
		return st
	}

	st.WindowTurns = min(cfg.Window, totalTurns)
	cutoff := totalTurns - st.WindowTurns
	for _, s := range signals {
		if s.Turn > cutoff {
			st.WindowSignals++
		}
	}

	st.SignalsPerTurn = float64(st.TotalSignals) / float64(totalTurns)
	if st.WindowTurns > 0 {
		st.RecentDensity = float64(st.WindowSignals) / float64(st.WindowTurns)
	}

	st.LowRecent = totalTurns >= cfg.Window && st.WindowSignals < cfg.MinSignalsPerWindow
	st.Critical = totalTurns >= cfg.CriticalAfterTurns && st.SignalsPerTurn < cfg.CriticalRate

	switch {
	case st.Critical:
		st.Alert = fmt.Sprintf(
			"CRITICAL: Only %d signals in %d turns (%.2f/turn). Remember: Extract a signal after EVERY meaningful user response.",
			st.TotalSignals, st.TotalTurns, st.SignalsPerTurn)
	case st.LowRecent:
		st.Alert = fmt.Sprintf(
			"LOW DENSITY: Only %d signals in last %d turns. Target is %d per %d turns.",
			st.WindowSignals, st.WindowTurns, cfg.MinSignalsPerWindow, cfg.Window)
	}

	return st
}

// GateResult is the outcome of the density synthesis gate.
type GateResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanProceedToSynthesis is the hard density gate: enough signals overall
// and enough of them high-confidence. It is evaluated in addition to
// domain coverage.
func CanProceedToSynthesis(totalSignals, highConfidence int, cfg DensityConfig) GateResult {
	if totalSignals < cfg.MinSignalsForSynthesis {
		return GateResult{Reason: fmt.Sprintf("Insufficient signals for synthesis (%d/%d)",
			totalSignals, cfg.MinSignalsForSynthesis)}
	}

	minHigh := 0
	if cfg.HighConfidenceDivisor > 0 {
		minHigh = cfg.MinSignalsForSynthesis / cfg.HighConfidenceDivisor
	}
	if highConfidence < minHigh {
		return GateResult{Reason: fmt.Sprintf("Insufficient high-confidence signals (%d/%d)",
			highConfidence, minHigh)}
	}

	return GateResult{Allowed: true}
}

// DensityPromptInjection returns the corrective instruction for the
// assembler, or "" when density is healthy.
func DensityPromptInjection(st DensityStats) string {
	if st.Alert == "" {
		return ""
	}
	return "EXTRACTION ALERT: " + st.Alert
}

// ExtractionReminder is the standing instruction appended to every
// excavation prompt.
func ExtractionReminder() string {
	return "After every meaningful user response, record at least one signal. " +
		"Listen for first-person markers: \"I had to\" (frustrated autonomy), " +
		"\"I'm good at\" (competence), \"they always\" (pattern), " +
		"\"it doesn't matter\" (possible defense)."
}
