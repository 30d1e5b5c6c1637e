package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionHealth(t *testing.T) {
	tests := []struct {
		name string
		ctx  HealthContext
		want HealthAction
	}{
		{"fresh session", HealthContext{}, ActionContinue},
		{"eleven silent turns", HealthContext{TotalTurns: 12, SignalCount: 1, LastSignalTurn: 1}, ActionForceAdvance},
		{"low density", HealthContext{TotalTurns: 10, SignalCount: 1, LastSignalTurn: 8}, ActionProbeDeeper},
		{"flowing and long in phase", HealthContext{TotalTurns: 12, TurnsInPhase: 9, SignalCount: 8, LastSignalTurn: 12}, ActionAdvance},
		{"flowing, early in phase", HealthContext{TotalTurns: 12, TurnsInPhase: 3, SignalCount: 8, LastSignalTurn: 12}, ActionContinue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionHealth(tt.ctx).Action)
		})
	}
}
