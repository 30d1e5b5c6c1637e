package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// AskQuestionTool handles the discovery_ask_question MCP tool. It records
// the question the assistant is about to ask and tracks required profile
// questions.
type AskQuestionTool struct {
	engine Discovery
}

// NewAskQuestionTool creates an AskQuestionTool.
func NewAskQuestionTool(engine Discovery) *AskQuestionTool {
	return &AskQuestionTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *AskQuestionTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_ask_question",
		mcp.WithDescription(
			"Ask the user a question, optionally with answer choices. "+
				"When the question is one of the required profile questions, pass its question_id "+
				"so it is marked as asked.",
		),
		withSessionID(),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question as it will be shown to the user"),
		),
		mcp.WithArray("options",
			mcp.Description("Optional answer choices"),
			mcp.WithStringItems(),
		),
		mcp.WithString("question_id",
			mcp.Description("ID of the required question being asked (e.g. 'complaints')"),
		),
	)
}

// Handle processes the discovery_ask_question tool call.
func (t *AskQuestionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	question := req.GetString("question", "")
	if strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("'question' is required"), nil
	}
	questionID := strings.TrimSpace(req.GetString("question_id", ""))

	res, err := t.engine.AskQuestion(ctx, id, question, stringSlice(req, "options"), questionID)
	if err != nil {
		return failed("asking question", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question recorded as turn %d.\n", res.Turn.Seq)
	if questionID != "" {
		fmt.Fprintf(&b, "Required question `%s` marked as asked.\n", questionID)
	}
	if res.NextRequired != nil {
		fmt.Fprintf(&b, "\nNext required question (`%s`): %s\n", res.NextRequired.ID, res.NextRequired.Text)
	} else {
		b.WriteString("\nNo required questions left in this phase.\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
