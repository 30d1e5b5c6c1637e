// Package classifier provides the extraction.Classifier backends: the
// offline keyword heuristic and a Gemini-backed model.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/extraction"
)

// generator is the slice of *genai.Models the classifier calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini classifies utterances with a Gemini model constrained to a JSON
// response schema.
type Gemini struct {
	models generator
	model  string
	log    *zap.Logger
}

var _ extraction.Classifier = (*Gemini)(nil)

// NewGemini creates a Gemini classifier.
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(client.Models, model, logger), nil
}

func newGemini(models generator, model string, logger *zap.Logger) *Gemini {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{models: models, model: model, log: logger}
}

// Classify asks the model for signal drafts. The scheduler validates the
// drafts, so anything the model gets wrong is dropped there.
func (g *Gemini) Classify(ctx context.Context, req extraction.ClassifyRequest) ([]discovery.SignalDraft, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Text, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(req.Phase), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	drafts, err := parseDrafts(resp.Text())
	if err != nil {
		return nil, err
	}
	g.log.Debug("gemini classified utterance",
		zap.String("job_id", req.JobID),
		zap.Int("drafts", len(drafts)),
	)
	return drafts, nil
}

// wireDraft is the JSON shape the model returns.
type wireDraft struct {
	Domain     string  `json:"domain"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	State      string  `json:"state,omitempty"`
	LifeDomain string  `json:"life_domain,omitempty"`
}

type wireResponse struct {
	Signals []wireDraft `json:"signals"`
}

func parseDrafts(text string) ([]discovery.SignalDraft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var resp wireResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("decoding gemini response: %w", err)
	}
	drafts := make([]discovery.SignalDraft, 0, len(resp.Signals))
	for _, w := range resp.Signals {
		drafts = append(drafts, discovery.SignalDraft{
			Domain:     discovery.Domain(w.Domain),
			Type:       w.Type,
			Content:    w.Content,
			Source:     w.Source,
			Confidence: w.Confidence,
			State:      discovery.SignalState(w.State),
			LifeDomain: discovery.LifeDomain(w.LifeDomain),
		})
	}
	return drafts, nil
}

func responseSchema() *genai.Schema {
	domains := make([]string, len(discovery.DomainOrder))
	for i, d := range discovery.DomainOrder {
		domains[i] = string(d)
	}
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"signals": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"domain":      {Type: genai.TypeString, Enum: domains},
						"type":        str("Construct type for the domain; free text for PATTERN"),
						"content":     str("Short paraphrase of what the utterance reveals"),
						"source":      str("Verbatim quote from the utterance"),
						"confidence":  {Type: genai.TypeNumber, Description: "0.0 to 1.0"},
						"state":       str("SATISFIED/FRUSTRATED for NEED, STABLE/TRANSITIONING for DEVELOPMENT, else empty"),
						"life_domain": str("WORK, RELATIONSHIPS, HEALTH, PERSONAL_GROWTH, FINANCE, GENERAL, or empty"),
					},
					Required: []string{"domain", "type", "content", "source", "confidence"},
				},
			},
		},
		Required: []string{"signals"},
	}
}

func systemInstruction(phase discovery.Phase) string {
	var b strings.Builder
	b.WriteString("You extract psychological signals from one user utterance in a self-discovery conversation.\n")
	fmt.Fprintf(&b, "Conversation phase: %s.\n", phase)
	b.WriteString("Allowed construct types per domain:\n")
	for _, d := range discovery.DomainOrder {
		types := discovery.Constructs(d)
		if len(types) == 0 {
			fmt.Fprintf(&b, "- %s: short descriptive snake_case type\n", d)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", d, strings.Join(types, ", "))
	}
	b.WriteString("Only report what the utterance supports. Quote the user verbatim in source. ")
	b.WriteString("Use confidence above 0.7 only for explicit, first-person evidence. ")
	b.WriteString("Return an empty list when nothing is revealed.")
	return b.String()
}
