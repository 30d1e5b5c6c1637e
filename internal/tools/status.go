package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/engine"
)

// StatusTool handles the discovery_status MCP tool.
type StatusTool struct {
	engine Discovery
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(engine Discovery) *StatusTool {
	return &StatusTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_status",
		mcp.WithDescription(
			"Show the state of a session: phase progress, signals, domain coverage, "+
				"extraction density, the synthesis barrier and session health.",
		),
		withSessionID(),
	)
}

// Handle processes the discovery_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := sessionID(req)
	if errResult != nil {
		return errResult, nil
	}
	st, err := t.engine.Status(ctx, id)
	if err != nil {
		return failed("loading status", err), nil
	}
	return mcp.NewToolResultText(renderStatus(st)), nil
}

func renderStatus(st *engine.Status) string {
	var b strings.Builder
	s := st.Session

	b.WriteString("# Discovery Status\n\n")
	fmt.Fprintf(&b, "**Session:** `%s`\n", s.ID)
	fmt.Fprintf(&b, "**Phase:** %s (%d%%)", s.Phase, st.Progress)
	if st.NextPhase != "" {
		fmt.Fprintf(&b, ", next: %s", st.NextPhase)
	}
	b.WriteString("\n")
	if s.Closed {
		b.WriteString("**Closed:** yes\n")
	}
	fmt.Fprintf(&b, "**Turns:** %d total, %d in phase\n", s.TotalTurns, s.TurnsInPhase)
	fmt.Fprintf(&b, "**Scenarios explored:** %d\n", s.ScenariosExplored)
	if len(s.AskedQuestions) > 0 {
		fmt.Fprintf(&b, "**Questions asked:** %s\n", strings.Join(s.AskedQuestions, ", "))
	}

	b.WriteString("\n## Signals\n\n")
	fmt.Fprintf(&b, "%d signals, %d high-confidence\n\n", st.SignalCount, st.HighConfidence)
	fmt.Fprintf(&b, "%s\n", coverageLine(st.Coverage))
	if st.Coverage.Recommendation != "" {
		fmt.Fprintf(&b, "\n%s\n", st.Coverage.Recommendation)
	}

	b.WriteString("\n## Density\n\n")
	fmt.Fprintf(&b, "%.2f signals/turn lifetime, %.2f in the last %d turns\n",
		st.Density.SignalsPerTurn, st.Density.RecentDensity, st.Density.WindowTurns)
	if st.Density.Alert != "" {
		fmt.Fprintf(&b, "⚠️ %s\n", st.Density.Alert)
	}

	b.WriteString("\n## Extraction\n\n")
	fmt.Fprintf(&b, "%d jobs: %d pending, %d processing, %d completed, %d failed\n",
		st.Extraction.TotalJobs, st.Extraction.Pending, st.Extraction.Processing,
		st.Extraction.Completed, st.Extraction.Failed)
	fmt.Fprintf(&b, "Barrier: %s\n", st.Barrier.Message)

	b.WriteString("\n## Health\n\n")
	fmt.Fprintf(&b, "%s (%s)", st.Health.Status, st.Health.Action)
	if st.Health.Message != "" {
		fmt.Fprintf(&b, ": %s", st.Health.Message)
	}
	b.WriteString("\n")

	if st.Contract != "" {
		b.WriteString("\n---\n\n")
		b.WriteString(st.Contract)
	}
	return b.String()
}
