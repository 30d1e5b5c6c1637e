package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the discovery-status MCP prompt.
// It instructs the AI to read and present the state of a session.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("discovery-status",
		mcp.WithPromptDescription(
			"Check where a discovery session stands: phase, evidence per domain, "+
				"pending extractions and what has to happen next.",
		),
		mcp.WithArgument("session_id",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Session ID to inspect"),
		),
	)
}

// Handle processes the discovery-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	id := ""
	if args := req.Params.Arguments; args != nil {
		id = strings.TrimSpace(args["session_id"])
	}
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	return &mcp.GetPromptResult{
		Description: "Discovery Session Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please run `discovery_status` for session `%s`.\n\n"+
						"Then:\n"+
						"1. Tell me which phase we're in and how far along we are\n"+
						"2. Show which domains have evidence and which are still missing\n"+
						"3. Flag anything blocking the next phase (coverage, pending or failed extractions, low density)\n"+
						"4. Tell me exactly what we should talk about next",
					id,
				)),
			},
		},
	}, nil
}
