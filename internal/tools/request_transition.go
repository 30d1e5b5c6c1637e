package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// RequestTransitionTool handles the discovery_request_transition MCP tool.
// A denial is a normal result, not a tool error.
type RequestTransitionTool struct {
	engine Discovery
}

// NewRequestTransitionTool creates a RequestTransitionTool.
func NewRequestTransitionTool(engine Discovery) *RequestTransitionTool {
	return &RequestTransitionTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *RequestTransitionTool) Definition() mcp.Tool {
	phases := make([]string, len(discovery.PhaseOrder))
	for i, p := range discovery.PhaseOrder {
		phases[i] = string(p)
	}
	return mcp.NewTool("discovery_request_transition",
		mcp.WithDescription(
			"Ask to move the session to another phase. Guards check scenarios, signal counts, "+
				"domain coverage and in-flight extractions. If denied, follow the recommendation and try again later.",
		),
		withSessionID(),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Target phase"),
			mcp.Enum(phases...),
		),
		mcp.WithString("reason",
			mcp.Description("Why the conversation is ready to move on"),
		),
		mcp.WithBoolean("override",
			mcp.Description("The user explicitly insists. Skips count guards, never coverage or pending extractions."),
		),
	)
}

// Handle processes the discovery_request_transition tool call.
func (t *RequestTransitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	to := strings.TrimSpace(req.GetString("to", ""))
	if to == "" {
		return mcp.NewToolResultError("'to' is required"), nil
	}

	out, err := t.engine.RequestTransition(ctx, id, discovery.Phase(to), req.GetString("reason", ""), req.GetBool("override", false))
	if err != nil {
		return failed("requesting transition", err), nil
	}
	return mcp.NewToolResultText(decisionText(out)), nil
}
