package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckCoverage_Empty(t *testing.T) {
	cov := CheckCoverage(nil)
	assert.False(t, cov.RequiredMet)
	assert.False(t, cov.OptionalMet)
	assert.Equal(t, []Domain{DomainValue, DomainNeed}, cov.MissingRequired)
	assert.Equal(t, "Missing required domains: VALUE, NEED. Probe for what matters to them and frustrated needs.", cov.Recommendation)
	assert.Len(t, cov.Counts, 7)
}

func TestCheckCoverage_RequiredMet(t *testing.T) {
	tests := []struct {
		name    string
		signals []Signal
		want    bool
	}{
		{"both required above threshold", []Signal{sig(DomainValue, "POWER", 0.61), sig(DomainNeed, "AUTONOMY", 0.9)}, true},
		{"need at exactly threshold", []Signal{sig(DomainValue, "POWER", 0.9), sig(DomainNeed, "AUTONOMY", 0.6)}, false},
		{"only value", []Signal{sig(DomainValue, "POWER", 0.9)}, false},
		{"optional only", []Signal{sig(DomainDefense, "DENIAL", 0.9)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCoverage(tt.signals).RequiredMet)
		})
	}
}

func TestCheckCoverage_LowConfidenceDoesNotFlip(t *testing.T) {
	signals := []Signal{sig(DomainValue, "POWER", 0.9)}
	before := CheckCoverage(signals)
	assert.False(t, before.RequiredMet)

	signals = append(signals, sig(DomainNeed, "AUTONOMY", 0.6))
	after := CheckCoverage(signals)
	assert.False(t, after.RequiredMet)
	assert.Equal(t, 0, after.Counts[DomainNeed])
	assert.Equal(t, []Domain{DomainNeed}, after.MissingRequired)
	assert.Contains(t, after.Recommendation, "Missing required domains: NEED")
}

func TestCheckCoverage_OptionalSet(t *testing.T) {
	required := []Signal{sig(DomainValue, "POWER", 0.9), sig(DomainNeed, "AUTONOMY", 0.9)}

	cov := CheckCoverage(required)
	assert.True(t, cov.RequiredMet)
	assert.False(t, cov.OptionalMet)
	assert.Equal(t, "Need at least one of: DEFENSE, PATTERN, ATTACHMENT, DEVELOPMENT, or MOTIVE signals.", cov.Recommendation)

	for _, d := range OptionalDomains {
		t.Run(string(d), func(t *testing.T) {
			typ := "x"
			if c := Constructs(d); len(c) > 0 {
				typ = c[0]
			}
			with := append(append([]Signal{}, required...), sig(d, typ, 0.65))
			cov := CheckCoverage(with)
			assert.True(t, cov.Ready())
			assert.Empty(t, cov.Recommendation)
		})
	}
}

func TestDomainsCovered(t *testing.T) {
	signals := []Signal{
		sig(DomainValue, "POWER", 0.1),
		sig(DomainValue, "SECURITY", 0.9),
		sig(DomainPattern, "x", 0.5),
	}
	assert.Equal(t, 2, DomainsCovered(signals))
	assert.Equal(t, 0, DomainsCovered(nil))
}

func TestCoveragePromptInjection(t *testing.T) {
	assert.Contains(t, CoveragePromptInjection(CheckCoverage(nil)), "DOMAIN COVERAGE: Missing required domains")

	ready := CheckCoverage([]Signal{
		sig(DomainValue, "POWER", 0.9),
		sig(DomainNeed, "AUTONOMY", 0.9),
		sig(DomainMotive, "POWER", 0.9),
	})
	assert.Empty(t, CoveragePromptInjection(ready))
}
