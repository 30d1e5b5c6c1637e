package extraction

import (
	"context"
	"strings"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// ClassifyRequest is one utterance to classify.
type ClassifyRequest struct {
	SessionID string
	JobID     string
	Phase     discovery.Phase
	Turn      int
	Text      string
}

// Classifier turns an utterance into signal drafts. Drafts are validated
// by the scheduler; a classifier does not need to enforce invariants.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) ([]discovery.SignalDraft, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, req ClassifyRequest) ([]discovery.SignalDraft, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req ClassifyRequest) ([]discovery.SignalDraft, error) {
	return f(ctx, req)
}

// --- Keyword classifier ---

// marker maps first-person phrases to one signal.
type marker struct {
	phrases    []string
	domain     discovery.Domain
	typ        string
	state      discovery.SignalState
	content    string
	confidence float64
}

var markers = []marker{
	{[]string{"i had to", "i have to", "they made me", "no choice"},
		discovery.DomainNeed, "AUTONOMY", discovery.StateFrustrated, "Feels constrained by obligations set by others", 0.65},
	{[]string{"i'm good at", "i am good at", "proud of", "nailed it"},
		discovery.DomainNeed, "COMPETENCE", discovery.StateSatisfied, "Draws energy from mastery", 0.65},
	{[]string{"lonely", "no one understands", "on my own", "left out"},
		discovery.DomainNeed, "RELATEDNESS", discovery.StateFrustrated, "Lacks a sense of connection", 0.6},
	{[]string{"stable", "safe", "security", "predictable"},
		discovery.DomainValue, "SECURITY", "", "Values safety and predictability", 0.62},
	{[]string{"freedom", "my own way", "independent", "my own boss"},
		discovery.DomainValue, "SELF_DIRECTION", "", "Values deciding for themself", 0.62},
	{[]string{"succeed", "achieve", "promotion", "be the best"},
		discovery.DomainValue, "ACHIEVEMENT", "", "Measures worth through accomplishment", 0.62},
	{[]string{"my family", "help others", "take care of"},
		discovery.DomainValue, "BENEVOLENCE", "", "Prioritizes the welfare of people close to them", 0.62},
	{[]string{"in charge", "in control", "call the shots"},
		discovery.DomainMotive, "POWER", "", "Wants influence over outcomes", 0.55},
	{[]string{"belong", "fit in", "my team"},
		discovery.DomainMotive, "AFFILIATION", "", "Seeks belonging", 0.55},
	{[]string{"it doesn't matter", "whatever", "i don't care"},
		discovery.DomainDefense, "DENIAL", "", "Minimizes something that seems to matter", 0.55},
	{[]string{"they'll leave", "need reassurance", "afraid they"},
		discovery.DomainAttachment, "ANXIOUS", "", "Worries about losing people", 0.55},
	{[]string{"don't need anyone", "rely on myself", "by myself"},
		discovery.DomainAttachment, "AVOIDANT", "", "Leans on self-reliance", 0.55},
	{[]string{"figuring out who", "becoming someone", "changing who i am"},
		discovery.DomainDevelopment, "SELF_AUTHORING", discovery.StateTransitioning, "Is renegotiating their identity", 0.5},
	{[]string{"always", "every time", "again and again", "never fails"},
		discovery.DomainPattern, "Recurring behavior", "", "Describes a behavior that repeats", 0.6},
}

// KeywordClassifier is an offline heuristic classifier matching
// first-person marker phrases. Its confidences stay at or below 0.65.
type KeywordClassifier struct{}

// NewKeywordClassifier creates a KeywordClassifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify returns at most one draft per marker rule.
func (k *KeywordClassifier) Classify(ctx context.Context, req ClassifyRequest) ([]discovery.SignalDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(req.Text)
	src := req.Text
	if len(lower) != len(src) {
		src = lower
	}
	var drafts []discovery.SignalDraft
	for _, m := range markers {
		for _, p := range m.phrases {
			idx := strings.Index(lower, p)
			if idx < 0 {
				continue
			}
			drafts = append(drafts, discovery.SignalDraft{
				Domain:     m.domain,
				Type:       m.typ,
				State:      m.state,
				Content:    m.content,
				Source:     sentenceAround(src, idx),
				Confidence: m.confidence,
			})
			break
		}
	}
	return drafts, nil
}

// sentenceAround returns the sentence of text containing byte offset idx.
func sentenceAround(text string, idx int) string {
	start := strings.LastIndexAny(text[:idx], ".!?\n") + 1
	end := strings.IndexAny(text[idx:], ".!?\n")
	if end < 0 {
		end = len(text)
	} else {
		end += idx + 1
	}
	return strings.TrimSpace(text[start:end])
}
