// Package assembler builds the bounded instruction payload handed to the
// generation capability on every turn.
package assembler

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/templates"
)

// Config bounds the payload.
type Config struct {
	WindowSize      int `mapstructure:"window_size" toml:"window_size"`
	TokenBudget     int `mapstructure:"token_budget" toml:"token_budget"`
	NudgeAfterTurns int `mapstructure:"nudge_after_turns" toml:"nudge_after_turns"`
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{WindowSize: 10, TokenBudget: 10000, NudgeAfterTurns: 8}
}

// Input is everything the assembler reads for one turn.
type Input struct {
	Session *discovery.Session
	Signals []discovery.Signal
	Turns   []discovery.Turn
	// Alerts are density and coverage injections, appended verbatim.
	Alerts []string
}

// Message is one conversational turn in the window.
type Message struct {
	Role    discovery.Role `json:"role"`
	Content string         `json:"content"`
}

// Payload is the assembled context.
type Payload struct {
	SystemPrompt        string    `json:"system_prompt"`
	Messages            []Message `json:"messages"`
	SignalCount         int       `json:"signal_count"`
	HighConfidenceCount int       `json:"high_confidence_count"`
	DomainCoverage      int       `json:"domain_coverage"`
	EstimatedTokens     int       `json:"estimated_tokens"`
}

// Assembler renders payloads from the phase catalog.
type Assembler struct {
	catalog  *templates.Catalog
	renderer templates.Renderer
	cfg      Config
}

// New creates an Assembler. Zero config fields take their defaults.
func New(catalog *templates.Catalog, renderer templates.Renderer, cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = def.TokenBudget
	}
	if cfg.NudgeAfterTurns <= 0 {
		cfg.NudgeAfterTurns = def.NudgeAfterTurns
	}
	return &Assembler{catalog: catalog, renderer: renderer, cfg: cfg}
}

// Budget returns the configured token budget.
func (a *Assembler) Budget() int {
	return a.cfg.TokenBudget
}

// Build assembles the payload for the session's current phase.
func (a *Assembler) Build(in Input) (*Payload, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("assemble: nil session")
	}
	sess := in.Session

	guide, err := a.catalog.Guide(sess.Phase)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	data := templates.PromptData{
		Phase:             guide,
		Summary:           Summarize(in.Signals),
		ScenariosExplored: sess.ScenariosExplored,
		TurnsInPhase:      sess.TurnsInPhase,
		Nudge:             sess.TurnsInPhase > a.cfg.NudgeAfterTurns,
		Components:        templates.UIComponents,
	}
	for _, alert := range in.Alerts {
		if alert != "" {
			data.Alerts = append(data.Alerts, alert)
		}
	}

	if sess.Phase == discovery.PhaseExcavation {
		data.Constructs = constructLines()
		data.Questions = a.questionSection(sess)
		data.Alerts = append(data.Alerts, discovery.ExtractionReminder())
	}

	prompt, err := a.renderer.Render(templates.SystemPrompt, data)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	window := Window(in.Turns, a.cfg.WindowSize)
	msgs := make([]Message, 0, len(window))
	for _, t := range window {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}

	p := &Payload{
		SystemPrompt:        prompt,
		Messages:            msgs,
		SignalCount:         len(in.Signals),
		HighConfidenceCount: discovery.CountHighConfidence(in.Signals),
		DomainCoverage:      discovery.DomainsCovered(in.Signals),
	}
	p.EstimatedTokens = p.Tokens()
	return p, nil
}

func (a *Assembler) questionSection(sess *discovery.Session) *templates.QuestionSection {
	unasked := a.catalog.Unasked(discovery.PhaseExcavation, sess.AskedQuestions)
	if len(unasked) == 0 {
		return &templates.QuestionSection{AllAsked: true}
	}
	ids := make([]string, len(unasked))
	for i, q := range unasked {
		ids[i] = q.ID
	}
	return &templates.QuestionSection{Next: unasked[0], Remaining: ids}
}

func constructLines() []templates.ConstructLine {
	var lines []templates.ConstructLine
	for _, d := range discovery.DomainOrder {
		types := discovery.Constructs(d)
		if len(types) == 0 {
			lines = append(lines, templates.ConstructLine{Domain: d, Types: "free text, e.g. people_pleasing"})
			continue
		}
		lines = append(lines, templates.ConstructLine{Domain: d, Types: strings.Join(types, ", ")})
	}
	return lines
}

// --- Summary ---

// summaryLimit is how many signals per domain the summary shows.
const summaryLimit = 3

// Summarize renders high-confidence signals grouped by domain, at most
// three per domain, followed by an aggregate line over all signals.
func Summarize(signals []discovery.Signal) string {
	top := discovery.TopByDomain(signals, discovery.HighConfidence, summaryLimit)

	var b strings.Builder
	for _, d := range discovery.DomainOrder {
		list := top[d]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n", d)
		for _, s := range list {
			state := ""
			if s.State != "" {
				state = " [" + string(s.State) + "]"
			}
			fmt.Fprintf(&b, "  - %s%s: \"%s\"\n", s.Type, state, s.Content)
		}
	}
	if b.Len() == 0 {
		b.WriteString("No signals extracted yet.\n")
	}

	fmt.Fprintf(&b, "\n(%d signals, %d high-confidence, %d/%d domains covered)",
		len(signals), discovery.CountHighConfidence(signals),
		discovery.DomainsCovered(signals), len(discovery.DomainOrder))
	return b.String()
}

// --- Window ---

// Window returns turns unchanged when there are at most size of them;
// otherwise the first turn followed by the last size-1.
func Window(turns []discovery.Turn, size int) []discovery.Turn {
	if size <= 0 || len(turns) <= size {
		return turns
	}
	out := make([]discovery.Turn, 0, size)
	out = append(out, turns[0])
	return append(out, turns[len(turns)-(size-1):]...)
}

// --- Token budget ---

// EstimateTokens approximates tokens as one per four characters.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Tokens estimates the payload's total size.
func (p *Payload) Tokens() int {
	n := EstimateTokens(p.SystemPrompt)
	for _, m := range p.Messages {
		n += EstimateTokens(m.Content)
	}
	return n
}

// WithinBudget reports whether the payload is under budget. It is
// advisory: nothing trims an oversized payload.
func WithinBudget(p *Payload, budget int) bool {
	return p.Tokens() < budget
}
