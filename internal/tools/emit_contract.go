package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// EmitContractTool handles the discovery_emit_contract MCP tool: the
// final artifact of a session. Emitting closes the session.
type EmitContractTool struct {
	engine Discovery
}

// NewEmitContractTool creates an EmitContractTool.
func NewEmitContractTool(engine Discovery) *EmitContractTool {
	return &EmitContractTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *EmitContractTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_emit_contract",
		mcp.WithDescription(
			"Emit the Momentum Contract. Only allowed in CONTRACT; closes the session. "+
				"Every line must be specific to this user and grounded in their own words.",
		),
		withSessionID(),
		mcp.WithString("refusal",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("'I refuse to...': the pattern they stop (max %d chars)", discovery.MaxRefusal)),
		),
		mcp.WithString("becoming",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("'I am becoming...': the identity they move toward (max %d chars)", discovery.MaxBecoming)),
		),
		mcp.WithString("proof",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("1 year proof (max %d chars)", discovery.MaxProof)),
		),
		mcp.WithString("test",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("1 month test (max %d chars)", discovery.MaxTest)),
		),
		mcp.WithString("vote",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Today's vote: one action doable today (max %d chars)", discovery.MaxVote)),
		),
		mcp.WithString("rule",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("The rule they live by from now on (max %d chars)", discovery.MaxRule)),
		),
		mcp.WithArray("evidence",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("%d-%d direct user quotes: objects with 'quote' and optional 'scenario_name' and 'signal_type'",
				discovery.MinEvidence, discovery.MaxEvidence)),
		),
		mcp.WithString("mirror_moment",
			mcp.Description("The reflection that landed hardest"),
		),
		mcp.WithObject("primary_contradiction",
			mcp.Description("The stated-versus-actual gap: 'stated' and 'actual'"),
		),
	)
}

// Handle processes the discovery_emit_contract tool call.
func (t *EmitContractTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}

	var c discovery.Contract
	if err := bindArgs(req, &c); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.engine.EmitContract(ctx, id, c)
	if err != nil {
		return failed("emitting contract", err), nil
	}
	return mcp.NewToolResultText(res.Markdown + "\n---\nSession closed. Contract saved.\n"), nil
}
