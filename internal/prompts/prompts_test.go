package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Messages[0].Content)
	}
	return tc.Text
}

func TestStartPrompt(t *testing.T) {
	p := NewStartPrompt()
	if got := p.Definition().Name; got != "discovery-start" {
		t.Errorf("name = %q, want discovery-start", got)
	}

	req := mcp.GetPromptRequest{}
	res, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := promptText(t, res)
	if !strings.Contains(text, "discovery_start_session") || !strings.Contains(text, "hour by hour") {
		t.Errorf("unexpected prompt: %s", text)
	}

	req.Params.Arguments = map[string]string{"focus": "work"}
	res, err = p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := promptText(t, res); !strings.Contains(text, "starting from my work") {
		t.Errorf("focus not used: %s", text)
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if got := p.Definition().Name; got != "discovery-status" {
		t.Errorf("name = %q, want discovery-status", got)
	}

	req := mcp.GetPromptRequest{}
	if _, err := p.Handle(context.Background(), req); err == nil {
		t.Error("expected error without session_id")
	}

	req.Params.Arguments = map[string]string{"session_id": "abc-123"}
	res, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := promptText(t, res); !strings.Contains(text, "`discovery_status` for session `abc-123`") {
		t.Errorf("unexpected prompt: %s", text)
	}
}
