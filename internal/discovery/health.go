package discovery

// HealthStatus summarizes how a session is progressing.
type HealthStatus string

const (
	HealthGood  HealthStatus = "healthy"
	HealthSlow  HealthStatus = "slow"
	HealthStuck HealthStatus = "stuck"
)

// HealthAction is what the orchestrator should nudge the conversation toward.
type HealthAction string

const (
	ActionContinue     HealthAction = "continue"
	ActionProbeDeeper  HealthAction = "probe_deeper"
	ActionAdvance      HealthAction = "advance"
	ActionForceAdvance HealthAction = "force_advance"
)

// HealthContext is the input to SessionHealth. LastSignalTurn is the turn
// of the newest signal, or 0 if there is none.
type HealthContext struct {
	TotalTurns     int
	TurnsInPhase   int
	SignalCount    int
	LastSignalTurn int
}

// Health is the session health verdict.
type Health struct {
	Status  HealthStatus `json:"status"`
	Action  HealthAction `json:"action"`
	Message string       `json:"message,omitempty"`
}

// SessionHealth flags sessions that stopped producing evidence or that
// have lingered in a productive phase long enough to move on.
func SessionHealth(ctx HealthContext) Health {
	if ctx.TotalTurns-ctx.LastSignalTurn > 10 {
		return Health{
			Status:  HealthStuck,
			Action:  ActionForceAdvance,
			Message: "More than 10 turns without a new signal.",
		}
	}

	density := 0.0
	if ctx.TotalTurns > 0 {
		density = float64(ctx.SignalCount) / float64(ctx.TotalTurns)
	}

	if density < 0.2 && ctx.TotalTurns > 5 {
		return Health{
			Status:  HealthSlow,
			Action:  ActionProbeDeeper,
			Message: "Low signal density. Ask for a specific, recent example.",
		}
	}

	if density > 0.5 && ctx.TurnsInPhase > 8 {
		return Health{
			Status:  HealthGood,
			Action:  ActionAdvance,
			Message: "Evidence is flowing. Consider requesting the next phase.",
		}
	}

	return Health{Status: HealthGood, Action: ActionContinue}
}
