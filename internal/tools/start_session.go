package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartSessionTool handles the discovery_start_session MCP tool.
type StartSessionTool struct {
	engine Discovery
}

// NewStartSessionTool creates a StartSessionTool.
func NewStartSessionTool(engine Discovery) *StartSessionTool {
	return &StartSessionTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *StartSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_start_session",
		mcp.WithDescription(
			"Start a new discovery session. The session begins in SCENARIO. "+
				"Keep the returned session_id and pass it to every other discovery_* tool.",
		),
	)
}

// Handle processes the discovery_start_session tool call.
func (t *StartSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := t.engine.StartSession(ctx)
	if err != nil {
		return failed("starting session", err), nil
	}

	response := fmt.Sprintf(
		"# Discovery Session Started\n\n"+
			"**Session ID:** `%s`\n"+
			"**Phase:** %s\n\n"+
			"## Next Steps\n\n"+
			"1. Open with a concrete scenario: ask the user to walk you through a recent, ordinary day.\n"+
			"2. Pass every user message to `discovery_turn` and follow the system prompt it returns.\n"+
			"3. Call `discovery_explore_scenario` once a scenario has been explored in depth.\n",
		sess.ID, sess.Phase,
	)
	return mcp.NewToolResultText(response), nil
}
