package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/mirror/internal/templates"
)

// Render positions relative to the message text.
var uiPositions = []string{"before", "after", "replace"}

// uiRequired lists the string fields each component type must carry.
var uiRequired = map[string][]string{
	"TextMessage":       {"text"},
	"InsightCard":       {"title", "insight"},
	"MirrorStatement":   {"statement"},
	"ProfileSection":    {"sectionType", "title"},
	"ContradictionCard": {"stated", "actual"},
	"ContractStatement": {"field", "label", "content"},
	"ActionButton":      {"label", "action"},
	"Divider":           nil,
}

// RenderUITool handles the discovery_render_ui MCP tool. It validates a
// flat list of rich UI components and echoes them back for the client.
type RenderUITool struct{}

// NewRenderUITool creates a RenderUITool.
func NewRenderUITool() *RenderUITool {
	return &RenderUITool{}
}

// Definition returns the MCP tool definition for registration.
func (t *RenderUITool) Definition() mcp.Tool {
	return mcp.NewTool("discovery_render_ui",
		mcp.WithDescription(
			"Render structured UI components for rich content. Available types: "+
				strings.Join(templates.UIComponents, ", ")+". "+
				"Example: {\"components\": [{\"type\": \"InsightCard\", \"title\": \"Pattern Detected\", "+
				"\"insight\": \"You consistently choose safety over growth\", \"domain\": \"VALUE\"}]}",
		),
		mcp.WithArray("components",
			mcp.Required(),
			mcp.Description("UI components; each object has a 'type' plus that type's fields"),
		),
		mcp.WithString("position",
			mcp.Description("Where to render relative to the message text (default: after)"),
			mcp.Enum(uiPositions...),
		),
	)
}

type renderUIArgs struct {
	Components []map[string]any `json:"components"`
	Position   string           `json:"position"`
}

// Handle processes the discovery_render_ui tool call.
func (t *RenderUITool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args renderUIArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(args.Components) == 0 {
		return mcp.NewToolResultError("'components' must contain at least one component"), nil
	}
	if args.Position == "" {
		args.Position = "after"
	}
	if !slices.Contains(uiPositions, args.Position) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid position %q: must be one of: %s",
			args.Position, strings.Join(uiPositions, ", "))), nil
	}

	var problems []string
	for i, c := range args.Components {
		if err := validateComponent(c); err != nil {
			problems = append(problems, fmt.Sprintf("components[%d]: %v", i, err))
		}
	}
	if len(problems) > 0 {
		return mcp.NewToolResultError("invalid UI components: " + strings.Join(problems, "; ")), nil
	}

	return mcp.NewToolResultText(jsonBlock(map[string]any{
		"success":    true,
		"components": args.Components,
		"position":   args.Position,
	})), nil
}

func validateComponent(c map[string]any) error {
	typ, _ := c["type"].(string)
	required, known := uiRequired[typ]
	if !known || !slices.Contains(templates.UIComponents, typ) {
		return fmt.Errorf("unknown type %q", typ)
	}
	for _, field := range required {
		s, _ := c[field].(string)
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s needs a non-empty %q", typ, field)
		}
	}
	return nil
}
