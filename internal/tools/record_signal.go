package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// RecordSignalTool handles the discovery_record_signal MCP tool: a
// synchronous signal the model extracts itself, alongside the background
// classifier.
type RecordSignalTool struct {
	engine Discovery
}

// NewRecordSignalTool creates a RecordSignalTool.
func NewRecordSignalTool(engine Discovery) *RecordSignalTool {
	return &RecordSignalTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *RecordSignalTool) Definition() mcp.Tool {
	domains := make([]string, len(discovery.DomainOrder))
	for i, d := range discovery.DomainOrder {
		domains[i] = string(d)
	}
	return mcp.NewTool("discovery_record_signal",
		mcp.WithDescription(
			"Record a psychological signal you noticed in the user's last answer. "+
				"Only allowed in SCENARIO and EXCAVATION. The type must be a construct of the domain "+
				"(PATTERN is free-form). Confidence above 0.7 counts as high-confidence.",
		),
		withSessionID(),
		mcp.WithString("domain",
			mcp.Required(),
			mcp.Description("Signal domain"),
			mcp.Enum(domains...),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Construct within the domain, e.g. SECURITY for VALUE or AUTONOMY for NEED"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("What the signal says about the user, in one sentence"),
		),
		mcp.WithString("source",
			mcp.Description("The user's words the signal is based on"),
		),
		mcp.WithNumber("confidence",
			mcp.Required(),
			mcp.Description("Confidence between 0 and 1"),
		),
		mcp.WithString("state",
			mcp.Description("NEED: SATISFIED or FRUSTRATED. DEVELOPMENT: STABLE or TRANSITIONING."),
		),
		mcp.WithString("emotional_context",
			mcp.Description("Optional emotion the user showed"),
		),
		mcp.WithString("life_domain",
			mcp.Description("Optional area of life, e.g. WORK or FAMILY"),
		),
		mcp.WithString("scenario_id",
			mcp.Description("Optional scenario the signal came from"),
		),
	)
}

// Handle processes the discovery_record_signal tool call.
func (t *RecordSignalTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}

	var draft discovery.SignalDraft
	if err := bindArgs(req, &draft); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := req.GetArguments()["confidence"]; !ok {
		return mcp.NewToolResultError("'confidence' is required"), nil
	}

	sig, err := t.engine.RecordSignal(ctx, id, draft)
	if err != nil {
		return failed("recording signal", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Signal #%d recorded: %s/%s", sig.ID, sig.Domain, sig.Type)
	if sig.State != "" {
		fmt.Fprintf(&b, " [%s]", sig.State)
	}
	fmt.Fprintf(&b, " at %.2f confidence", sig.Confidence)
	if sig.IsHighConfidence() {
		b.WriteString(" (high)")
	}
	b.WriteString(".\n")
	return mcp.NewToolResultText(b.String()), nil
}
