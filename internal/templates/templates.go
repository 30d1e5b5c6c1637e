// Package templates holds the embedded prompt material: the phase
// catalog (phases.yaml) and the text templates rendered from it.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/mirror/internal/discovery"
)

//go:embed phases.yaml files/*.tmpl
var content embed.FS

// Template names.
const (
	SystemPrompt = "system_prompt.md.tmpl"
	Contract     = "contract.md.tmpl"
)

// UIComponents lists the rich UI component types a client can render.
var UIComponents = []string{
	"TextMessage", "InsightCard", "MirrorStatement", "ProfileSection",
	"ContradictionCard", "ContractStatement", "ActionButton", "Divider",
}

// --- Catalog ---

// PhaseGuide is the per-phase system prompt header.
type PhaseGuide struct {
	Label        string `yaml:"label"`
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
}

// Question is one required profile question.
type Question struct {
	ID      string             `yaml:"id"`
	Phase   discovery.Phase    `yaml:"phase"`
	Domains []discovery.Domain `yaml:"domains"`
	Text    string             `yaml:"text"`
}

// Catalog is the parsed phases.yaml.
type Catalog struct {
	Phases    map[discovery.Phase]PhaseGuide `yaml:"phases"`
	Questions []Question                     `yaml:"questions"`
}

// LoadCatalog parses the embedded catalog and checks that every phase
// has guidance and every question names a known phase and domains.
func LoadCatalog() (*Catalog, error) {
	raw, err := content.ReadFile("phases.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading phase catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing phase catalog: %w", err)
	}

	for _, p := range discovery.PhaseOrder {
		if _, ok := c.Phases[p]; !ok {
			return nil, fmt.Errorf("phase catalog: no guidance for %s", p)
		}
	}
	seen := make(map[string]bool, len(c.Questions))
	for _, q := range c.Questions {
		if q.ID == "" || seen[q.ID] {
			return nil, fmt.Errorf("phase catalog: missing or duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		if err := discovery.ValidatePhase(q.Phase); err != nil {
			return nil, fmt.Errorf("phase catalog: question %s: %w", q.ID, err)
		}
		for _, d := range q.Domains {
			if err := discovery.ValidateDomain(d); err != nil {
				return nil, fmt.Errorf("phase catalog: question %s: %w", q.ID, err)
			}
		}
	}
	return &c, nil
}

// Guide returns the guidance for a phase.
func (c *Catalog) Guide(p discovery.Phase) (PhaseGuide, error) {
	g, ok := c.Phases[p]
	if !ok {
		return PhaseGuide{}, fmt.Errorf("no guidance for phase %q: %w", p, discovery.ErrInvalidPhase)
	}
	return g, nil
}

// Question looks up a required question by id.
func (c *Catalog) Question(id string) (Question, bool) {
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Unasked returns the phase's required questions not in asked, in
// catalog order.
func (c *Catalog) Unasked(p discovery.Phase, asked []string) []Question {
	var out []Question
	for _, q := range c.Questions {
		if q.Phase != p {
			continue
		}
		done := false
		for _, a := range asked {
			if a == q.ID {
				done = true
				break
			}
		}
		if !done {
			out = append(out, q)
		}
	}
	return out
}

// --- Prompt data ---

// ConstructLine lists the allowed types of one domain.
type ConstructLine struct {
	Domain discovery.Domain
	Types  string
}

// QuestionSection is the required-question block of an EXCAVATION prompt.
type QuestionSection struct {
	Next      Question
	Remaining []string
	AllAsked  bool
}

// PromptData feeds the SystemPrompt template.
type PromptData struct {
	Phase             PhaseGuide
	Constructs        []ConstructLine
	Summary           string
	ScenariosExplored int
	TurnsInPhase      int
	Nudge             bool
	Questions         *QuestionSection
	Alerts            []string
	Components        []string
}

// --- Renderer ---

// Renderer renders a named template with data.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// EmbedRenderer renders the templates compiled into the binary.
type EmbedRenderer struct {
	tmpl *template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*EmbedRenderer, error) {
	funcs := template.FuncMap{"join": strings.Join}
	t, err := template.New("").Funcs(funcs).ParseFS(content, "files/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &EmbedRenderer{tmpl: t}, nil
}

// Render executes the named template.
func (r *EmbedRenderer) Render(name string, data any) (string, error) {
	t := r.tmpl.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("template %q not found", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}
