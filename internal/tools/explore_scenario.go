package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ExploreScenarioTool handles the discovery_explore_scenario MCP tool.
type ExploreScenarioTool struct {
	engine Discovery
}

// NewExploreScenarioTool creates an ExploreScenarioTool.
func NewExploreScenarioTool(engine Discovery) *ExploreScenarioTool {
	return &ExploreScenarioTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *ExploreScenarioTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_explore_scenario",
		mcp.WithDescription(
			"Mark a scenario as explored in depth. At least one explored scenario is "+
				"required before moving to EXCAVATION.",
		),
		withSessionID(),
	)
}

// Handle processes the discovery_explore_scenario tool call.
func (t *ExploreScenarioTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	sess, err := t.engine.ExploreScenario(ctx, id)
	if err != nil {
		return failed("exploring scenario", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Scenarios explored: %d.\n", sess.ScenariosExplored)), nil
}
