package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ExtractionStatsTool handles the discovery_extraction_stats MCP tool.
type ExtractionStatsTool struct {
	engine Discovery
}

// NewExtractionStatsTool creates an ExtractionStatsTool.
func NewExtractionStatsTool(engine Discovery) *ExtractionStatsTool {
	return &ExtractionStatsTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *ExtractionStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_extraction_stats",
		mcp.WithDescription("Background extraction job counts and signal yield for a session."),
		withSessionID(),
	)
}

// Handle processes the discovery_extraction_stats tool call.
func (t *ExtractionStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	st, err := t.engine.ExtractionStats(ctx, id)
	if err != nil {
		return failed("loading extraction stats", err), nil
	}

	response := fmt.Sprintf(
		"# Extraction Stats\n\n"+
			"| Status | Jobs |\n"+
			"|--------|------|\n"+
			"| pending | %d |\n"+
			"| processing | %d |\n"+
			"| completed | %d |\n"+
			"| failed | %d |\n"+
			"| **total** | %d |\n\n"+
			"**Signals extracted:** %d (%.2f per completed message)\n",
		st.Pending, st.Processing, st.Completed, st.Failed, st.TotalJobs,
		st.TotalSignals, st.AvgSignalsPerMessage,
	)
	return mcp.NewToolResultText(response), nil
}
