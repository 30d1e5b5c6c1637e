// Package prompts implements the MCP prompt handlers of a discovery session.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the discovery-start MCP prompt.
// It guides the AI to open a session and begin in SCENARIO.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("discovery-start",
		mcp.WithPromptDescription(
			"Start a discovery conversation with The Mirror. "+
				"It walks through a concrete scenario, digs into what it reveals, "+
				"reflects the pattern back and ends with a Momentum Contract.",
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Optional area of life to start from, e.g. work, family, health"),
		),
	)
}

// Handle processes the discovery-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	focus := ""
	if args := req.Params.Arguments; args != nil {
		focus = strings.TrimSpace(args["focus"])
	}

	opening := "Ask me to walk you through a recent, ordinary day, hour by hour."
	if focus != "" {
		opening = fmt.Sprintf("Ask me to walk you through a recent, ordinary day, starting from my %s.", focus)
	}

	return &mcp.GetPromptResult{
		Description: "Start a discovery session",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"I want to understand what actually drives me.\n\n" +
						"Please:\n" +
						"1. Call `discovery_start_session` and keep the session ID\n" +
						"2. " + opening + "\n" +
						"3. Pass every message I send to `discovery_turn` first, then answer following the system prompt it returns\n" +
						"4. Record what you notice with `discovery_record_signal` and use `discovery_request_transition` when a phase feels done\n" +
						"5. Don't summarize me until the engine lets you into SYNTHESIS",
				),
			},
		},
	}, nil
}
