package discovery

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// HighConfidence is the confidence a signal must exceed to count toward
// phase guards, the synthesis gate and the context summary.
const HighConfidence = 0.7

// SignalDraft is an unvalidated signal as proposed by a classifier or by
// the generation capability. It becomes a Signal only through NewSignal.
type SignalDraft struct {
	Domain           Domain           `json:"domain"`
	Type             string           `json:"type"`
	Content          string           `json:"content"`
	Source           string           `json:"source"`
	Confidence       float64          `json:"confidence"`
	State            SignalState      `json:"state,omitempty"`
	EmotionalContext EmotionalContext `json:"emotional_context,omitempty"`
	LifeDomain       LifeDomain       `json:"life_domain,omitempty"`
	ScenarioID       string           `json:"scenario_id,omitempty"`
	RelatedIDs       []int64          `json:"related_ids,omitempty"`
}

// Signal is a validated, immutable fact extracted from the user. ID and
// CreatedAt are assigned by the store on insert.
type Signal struct {
	ID               int64            `json:"id"`
	SessionID        string           `json:"session_id"`
	JobID            string           `json:"job_id,omitempty"`
	Turn             int              `json:"turn"`
	Domain           Domain           `json:"domain"`
	Type             string           `json:"type"`
	Content          string           `json:"content"`
	Source           string           `json:"source"`
	Confidence       float64          `json:"confidence"`
	State            SignalState      `json:"state,omitempty"`
	EmotionalContext EmotionalContext `json:"emotional_context,omitempty"`
	LifeDomain       LifeDomain       `json:"life_domain,omitempty"`
	ScenarioID       string           `json:"scenario_id,omitempty"`
	RelatedIDs       []int64          `json:"related_ids,omitempty"`
	CreatedAt        string           `json:"created_at"`
}

// NewSignal validates a draft and binds it to a session turn. Every error
// wraps ErrInvalidSignal.
func NewSignal(sessionID string, turn int, d SignalDraft) (Signal, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Signal{}, fmt.Errorf("%w: session id is required", ErrInvalidSignal)
	}
	if turn < 0 {
		return Signal{}, fmt.Errorf("%w: turn must be >= 0, got %d", ErrInvalidSignal, turn)
	}

	domain := Domain(strings.ToUpper(strings.TrimSpace(string(d.Domain))))
	if err := ValidateDomain(domain); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	typ := strings.TrimSpace(d.Type)
	if typ == "" {
		return Signal{}, fmt.Errorf("%w: type is required", ErrInvalidSignal)
	}
	if domain != DomainPattern {
		typ = strings.ToUpper(typ)
		if !containsString(constructs[domain], typ) {
			return Signal{}, fmt.Errorf("%w: type %q is not a %s construct (allowed: %s)",
				ErrInvalidSignal, typ, domain, strings.Join(constructs[domain], ", "))
		}
	}

	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return Signal{}, fmt.Errorf("%w: confidence must be within [0,1], got %v", ErrInvalidSignal, d.Confidence)
	}

	content := strings.TrimSpace(d.Content)
	if content == "" {
		return Signal{}, fmt.Errorf("%w: content is required", ErrInvalidSignal)
	}

	state := SignalState(strings.ToUpper(strings.TrimSpace(string(d.State))))
	if state != "" {
		allowed, defines := statesByDomain[domain]
		if !defines {
			return Signal{}, fmt.Errorf("%w: domain %s does not define a state (got %q)", ErrInvalidSignal, domain, state)
		}
		if !allowed[state] {
			return Signal{}, fmt.Errorf("%w: state %q is not valid for %s", ErrInvalidSignal, state, domain)
		}
	}

	emotion := EmotionalContext(strings.ToUpper(strings.TrimSpace(string(d.EmotionalContext))))
	if emotion != "" && !validEmotions[emotion] {
		return Signal{}, fmt.Errorf("%w: unknown emotional context %q", ErrInvalidSignal, emotion)
	}

	life := LifeDomain(strings.ToUpper(strings.TrimSpace(string(d.LifeDomain))))
	if life != "" && !validLifeDomains[life] {
		return Signal{}, fmt.Errorf("%w: unknown life domain %q", ErrInvalidSignal, life)
	}

	return Signal{
		SessionID:        sessionID,
		Turn:             turn,
		Domain:           domain,
		Type:             typ,
		Content:          content,
		Source:           strings.TrimSpace(d.Source),
		Confidence:       d.Confidence,
		State:            state,
		EmotionalContext: emotion,
		LifeDomain:       life,
		ScenarioID:       strings.TrimSpace(d.ScenarioID),
		RelatedIDs:       d.RelatedIDs,
	}, nil
}

// IsHighConfidence reports whether the signal counts as high-confidence.
func (s Signal) IsHighConfidence() bool {
	return s.Confidence > HighConfidence
}

// CountHighConfidence returns how many signals exceed HighConfidence.
func CountHighConfidence(signals []Signal) int {
	n := 0
	for _, s := range signals {
		if s.IsHighConfidence() {
			n++
		}
	}
	return n
}

// TopByDomain groups signals above minConfidence by domain, keeping at
// most limit per domain ordered by descending confidence. Ties keep
// insertion order.
func TopByDomain(signals []Signal, minConfidence float64, limit int) map[Domain][]Signal {
	grouped := make(map[Domain][]Signal)
	for _, s := range signals {
		if s.Confidence > minConfidence {
			grouped[s.Domain] = append(grouped[s.Domain], s)
		}
	}
	for d, list := range grouped {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Confidence > list[j].Confidence
		})
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
		grouped[d] = list
	}
	return grouped
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
