package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// RetryExtractionTool handles the discovery_retry_extraction MCP tool.
type RetryExtractionTool struct {
	engine Discovery
}

// NewRetryExtractionTool creates a RetryExtractionTool.
func NewRetryExtractionTool(engine Discovery) *RetryExtractionTool {
	return &RetryExtractionTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *RetryExtractionTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_retry_extraction",
		mcp.WithDescription(
			"Schedule an extraction job again. A FAILED job can be retried once; "+
				"the retry is a new job linked to the original. A PENDING job that "+
				"was never picked up is resubmitted as is.",
		),
		withSessionID(),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("ID of the FAILED or PENDING job"),
		),
	)
}

// Handle processes the discovery_retry_extraction tool call.
func (t *RetryExtractionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	jobID := strings.TrimSpace(req.GetString("job_id", ""))
	if jobID == "" {
		return mcp.NewToolResultError("'job_id' is required"), nil
	}

	job, err := t.engine.RetryExtraction(ctx, id, jobID)
	if err != nil {
		return failed("retrying extraction", err), nil
	}
	if job.ID == jobID {
		return mcp.NewToolResultText(fmt.Sprintf("Job `%s` resubmitted (%s).\n", jobID, job.Status)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Job `%s` requeued as `%s` (%s).\n", jobID, job.ID, job.Status)), nil
}
