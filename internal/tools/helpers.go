// Package tools implements the MCP tool handlers of a discovery session.
//
// Each tool receives its dependencies via its struct and returns a handler
// compatible with mcp-go's CallToolRequest signature.
//
// Design principles:
// - SRP: each file = one tool
// - DIP: tools depend on the Discovery interface, not on *engine.Engine
// - Engine failures come back as tool errors so the model can react to them
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/engine"
	"github.com/HendryAvila/mirror/internal/extraction"
)

// Discovery is the engine surface the tools call.
type Discovery interface {
	StartSession(ctx context.Context) (*discovery.Session, error)
	Turn(ctx context.Context, id, utterance string, ready bool) (*engine.TurnResult, error)
	AskQuestion(ctx context.Context, id, question string, options []string, questionID string) (*engine.AskResult, error)
	RecordSignal(ctx context.Context, id string, draft discovery.SignalDraft) (*discovery.Signal, error)
	ExploreScenario(ctx context.Context, id string) (*discovery.Session, error)
	RequestTransition(ctx context.Context, id string, to discovery.Phase, reason string, override bool) (*engine.TransitionOutcome, error)
	EmitContract(ctx context.Context, id string, c discovery.Contract) (*engine.ContractResult, error)
	Status(ctx context.Context, id string) (*engine.Status, error)
	ExtractionStats(ctx context.Context, id string) (extraction.Stats, error)
	RetryExtraction(ctx context.Context, id, jobID string) (*extraction.Job, error)
}

// withSessionID adds the session_id parameter every session tool takes.
func withSessionID() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session ID returned by discovery_start_session"),
	)
}

// sessionID reads and checks the session_id argument.
func sessionID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := strings.TrimSpace(req.GetString("session_id", ""))
	if id == "" {
		return "", mcp.NewToolResultError("'session_id' is required")
	}
	return id, nil
}

// bindArgs decodes the raw arguments into a typed struct. Nested objects
// (signal drafts, contracts, UI components) arrive as generic JSON.
func bindArgs(req mcp.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// stringSlice reads an array-of-strings argument, skipping non-strings.
func stringSlice(req mcp.CallToolRequest, key string) []string {
	items, ok := req.GetArguments()[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// failed turns an engine error into a tool-level error.
func failed(action string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
}

// jsonBlock renders v as an indented JSON code block.
func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("(unrenderable: %v)", err)
	}
	return "```json\n" + string(data) + "\n```\n"
}

// coverageLine renders per-domain coverage counts in display order.
func coverageLine(c discovery.Coverage) string {
	parts := make([]string, 0, len(discovery.DomainOrder))
	for _, d := range discovery.DomainOrder {
		mark := "⬜"
		if c.Counts[d] > 0 {
			mark = "✅"
		}
		parts = append(parts, fmt.Sprintf("%s %s (%d)", mark, d, c.Counts[d]))
	}
	return strings.Join(parts, " · ")
}

// decisionText renders a transition outcome for the model.
func decisionText(out *engine.TransitionOutcome) string {
	var b strings.Builder
	if out.Applied {
		fmt.Fprintf(&b, "✅ **%s → %s**", out.From, out.To)
		if out.Forced {
			b.WriteString(" (forced)")
		}
		b.WriteString("\n")
		if out.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", out.Reason)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "❌ **Transition to %s denied**\n", out.To)
	fmt.Fprintf(&b, "Reason: %s\n", out.Decision.Reason)
	if out.Decision.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", out.Decision.Recommendation)
	}
	if out.Decision.PendingExtractions > 0 {
		fmt.Fprintf(&b, "Pending extractions: %d\n", out.Decision.PendingExtractions)
	}
	return b.String()
}
