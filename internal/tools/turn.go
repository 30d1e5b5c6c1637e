package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/engine"
)

// TurnTool handles the discovery_turn MCP tool: it ingests one user
// utterance and returns the assembled context for the next reply.
type TurnTool struct {
	engine Discovery
}

// NewTurnTool creates a TurnTool.
func NewTurnTool(engine Discovery) *TurnTool {
	return &TurnTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *TurnTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_turn",
		mcp.WithDescription(
			"Record the user's latest message. Signal extraction runs in the background; "+
				"the response is the system prompt and conversation window to answer with. "+
				"Call this for EVERY user message, before replying.",
		),
		withSessionID(),
		mcp.WithString("utterance",
			mcp.Required(),
			mcp.Description("The user's message, verbatim"),
		),
		mcp.WithBoolean("ready",
			mcp.Description("Set when the user explicitly asks to move on (\"I'm ready\"). Forces a one-step advance."),
		),
	)
}

// Handle processes the discovery_turn tool call.
func (t *TurnTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	utterance := req.GetString("utterance", "")
	if strings.TrimSpace(utterance) == "" {
		return mcp.NewToolResultError("'utterance' is required"), nil
	}

	res, err := t.engine.Turn(ctx, id, utterance, req.GetBool("ready", false))
	if err != nil {
		return failed("recording turn", err), nil
	}
	return mcp.NewToolResultText(renderTurn(res)), nil
}

func renderTurn(res *engine.TurnResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Turn %d · %s\n\n", res.Session.TotalTurns, res.Session.Phase)

	if res.ExtractionQueued {
		fmt.Fprintf(&b, "Extraction queued (job `%s`).\n", res.JobID)
	} else {
		fmt.Fprintf(&b, "⚠️ Extraction workers are busy; job `%s` stays PENDING. Resubmit it with `discovery_retry_extraction`.\n", res.JobID)
	}
	if res.Forced != nil {
		b.WriteString("\n")
		b.WriteString(decisionText(res.Forced))
	}

	fmt.Fprintf(&b, "\n**Health:** %s", res.Health.Status)
	if res.Health.Message != "" {
		fmt.Fprintf(&b, " (%s)", res.Health.Message)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "**Coverage:** %s\n", coverageLine(res.Coverage))
	fmt.Fprintf(&b, "**Signals:** %d (%d high-confidence), ~%d tokens of context\n",
		res.Context.SignalCount, res.Context.HighConfidenceCount, res.Context.EstimatedTokens)

	b.WriteString("\n## System Prompt\n\n")
	b.WriteString(res.Context.SystemPrompt)
	if !strings.HasSuffix(res.Context.SystemPrompt, "\n") {
		b.WriteString("\n")
	}

	b.WriteString("\n## Conversation Window\n\n")
	for _, m := range res.Context.Messages {
		fmt.Fprintf(&b, "**%s:** %s\n\n", m.Role, m.Content)
	}
	return b.String()
}
