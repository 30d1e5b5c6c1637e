package discovery

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignal_Valid(t *testing.T) {
	s, err := NewSignal("s1", 3, SignalDraft{
		Domain:           "need",
		Type:             "autonomy",
		Content:          "  Feels controlled by their manager ",
		Source:           "I had to ask permission for everything",
		Confidence:       0.85,
		State:            "frustrated",
		EmotionalContext: "vulnerable",
		LifeDomain:       "work",
	})
	require.NoError(t, err)

	assert.Equal(t, DomainNeed, s.Domain)
	assert.Equal(t, "AUTONOMY", s.Type)
	assert.Equal(t, "Feels controlled by their manager", s.Content)
	assert.Equal(t, StateFrustrated, s.State)
	assert.Equal(t, EmotionVulnerable, s.EmotionalContext)
	assert.Equal(t, LifeWork, s.LifeDomain)
	assert.Equal(t, 3, s.Turn)
	assert.Equal(t, "s1", s.SessionID)
}

func TestNewSignal_PatternAllowsFreeText(t *testing.T) {
	s, err := NewSignal("s1", 1, SignalDraft{
		Domain:     DomainPattern,
		Type:       "Says yes, then resents it",
		Content:    "Overcommits to avoid disappointing people",
		Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Says yes, then resents it", s.Type)
}

func TestNewSignal_Rejects(t *testing.T) {
	base := SignalDraft{Domain: DomainValue, Type: "SECURITY", Content: "wants stability", Confidence: 0.5}

	tests := []struct {
		name   string
		mutate func(d *SignalDraft)
	}{
		{"confidence above 1", func(d *SignalDraft) { d.Confidence = 1.01 }},
		{"confidence below 0", func(d *SignalDraft) { d.Confidence = -0.1 }},
		{"confidence NaN", func(d *SignalDraft) { d.Confidence = math.NaN() }},
		{"unknown domain", func(d *SignalDraft) { d.Domain = "MOOD" }},
		{"empty type", func(d *SignalDraft) { d.Type = "  " }},
		{"construct from another domain", func(d *SignalDraft) { d.Type = "AUTONOMY" }},
		{"empty content", func(d *SignalDraft) { d.Content = "" }},
		{"state on VALUE", func(d *SignalDraft) { d.State = StateSatisfied }},
		{"unknown emotion", func(d *SignalDraft) { d.EmotionalContext = "ANGRY" }},
		{"unknown life domain", func(d *SignalDraft) { d.LifeDomain = "HOBBIES" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			_, err := NewSignal("s1", 1, d)
			assert.ErrorIs(t, err, ErrInvalidSignal)
		})
	}
}

func TestNewSignal_StateMustMatchDomain(t *testing.T) {
	_, err := NewSignal("s1", 1, SignalDraft{
		Domain: DomainNeed, Type: "COMPETENCE", Content: "x", Confidence: 0.5, State: StateStable,
	})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	s, err := NewSignal("s1", 1, SignalDraft{
		Domain: DomainDevelopment, Type: "SELF_AUTHORING", Content: "x", Confidence: 0.5, State: StateTransitioning,
	})
	require.NoError(t, err)
	assert.Equal(t, StateTransitioning, s.State)
}

func TestNewSignal_RequiresSession(t *testing.T) {
	_, err := NewSignal("", 1, SignalDraft{Domain: DomainValue, Type: "POWER", Content: "x", Confidence: 0.5})
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestTopByDomain(t *testing.T) {
	signals := []Signal{
		sig(DomainValue, "POWER", 0.71),
		sig(DomainValue, "SECURITY", 0.95),
		sig(DomainValue, "TRADITION", 0.7),
		sig(DomainValue, "HEDONISM", 0.8),
		sig(DomainValue, "CONFORMITY", 0.9),
		sig(DomainNeed, "AUTONOMY", 0.6),
	}

	got := TopByDomain(signals, HighConfidence, 3)
	require.Len(t, got[DomainValue], 3)
	assert.Equal(t, "SECURITY", got[DomainValue][0].Type)
	assert.Equal(t, "CONFORMITY", got[DomainValue][1].Type)
	assert.Equal(t, "HEDONISM", got[DomainValue][2].Type)
	assert.NotContains(t, got, DomainNeed)
}

func TestSession_HasAsked(t *testing.T) {
	s := &Session{AskedQuestions: []string{"entry", "identity"}}
	assert.True(t, s.HasAsked("identity"))
	assert.False(t, s.HasAsked("five_year"))
}

func TestNow_UsesFrozenClock(t *testing.T) {
	assert.Equal(t, "2026-02-23T12:00:00.000Z", Now())
}
