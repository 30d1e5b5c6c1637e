package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/goleak"

	"github.com/HendryAvila/mirror/internal/assembler"
	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/engine"
	"github.com/HendryAvila/mirror/internal/extraction"
	"github.com/HendryAvila/mirror/internal/store"
	"github.com/HendryAvila/mirror/internal/templates"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Test helpers ---

// newTestEngine wires a real engine over a temp SQLite store with the
// keyword classifier.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("setup: store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := extraction.NewQueue(s, extraction.FailedResolved, nil)
	sched := extraction.NewScheduler(q, extraction.NewKeywordClassifier(), nil, nil, extraction.SchedulerConfig{Workers: 1, QueueSize: 8})
	sched.Start(context.Background())

	catalog, err := templates.LoadCatalog()
	if err != nil {
		t.Fatalf("setup: catalog: %v", err)
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		t.Fatalf("setup: renderer: %v", err)
	}

	eng := engine.New(engine.Deps{
		Repo:      s,
		Queue:     q,
		Scheduler: sched,
		Assembler: assembler.New(catalog, renderer, assembler.DefaultConfig()),
		Catalog:   catalog,
		Renderer:  renderer,
		Config: engine.Config{
			Thresholds: discovery.DefaultThresholds(),
			Density:    discovery.DefaultDensityConfig(),
		},
	})
	t.Cleanup(func() { eng.Close() })
	return eng
}

func startSession(t *testing.T, eng *engine.Engine) string {
	t.Helper()
	sess, err := eng.StartSession(context.Background())
	if err != nil {
		t.Fatalf("setup: start session: %v", err)
	}
	return sess.ID
}

func call(t *testing.T, handle func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	return result
}

// isErrorResult checks if the result is a tool error.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// getResultText extracts the text content from a CallToolResult.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func contract(id string) map[string]interface{} {
	return map[string]interface{}{
		"session_id": id,
		"refusal":    "I refuse to answer work messages at dinner.",
		"becoming":   "Someone who is present at home.",
		"proof":      "A year of dinners without the phone.",
		"test":       "Phone in the drawer for a month of dinners.",
		"vote":       "Leave the phone in the car tonight.",
		"rule":       "Dinner is offline.",
		"evidence": []interface{}{
			map[string]interface{}{"quote": "I check email under the table", "scenario_name": "Dinner"},
			map[string]interface{}{"quote": "My daughter stopped telling me about school"},
			map[string]interface{}{"quote": "I had to answer, it was my boss"},
		},
		"primary_contradiction": map[string]interface{}{
			"stated": "Family comes first",
			"actual": "Work interrupts every dinner",
		},
	}
}

// --- Definitions ---

func TestDefinitions(t *testing.T) {
	eng := newTestEngine(t)
	defs := map[string]mcp.Tool{
		"discovery_start_session":      NewStartSessionTool(eng).Definition(),
		"discovery_turn":               NewTurnTool(eng).Definition(),
		"discovery_ask_question":       NewAskQuestionTool(eng).Definition(),
		"discovery_record_signal":      NewRecordSignalTool(eng).Definition(),
		"discovery_explore_scenario":   NewExploreScenarioTool(eng).Definition(),
		"discovery_request_transition": NewRequestTransitionTool(eng).Definition(),
		"discovery_emit_contract":      NewEmitContractTool(eng).Definition(),
		"discovery_render_ui":          NewRenderUITool().Definition(),
		"discovery_status":             NewStatusTool(eng).Definition(),
		"discovery_extraction_stats":   NewExtractionStatsTool(eng).Definition(),
		"discovery_retry_extraction":   NewRetryExtractionTool(eng).Definition(),
	}
	for want, def := range defs {
		if def.Name != want {
			t.Errorf("name = %q, want %q", def.Name, want)
		}
		if def.Description == "" {
			t.Errorf("%s: empty description", want)
		}
	}
}

// --- Session tools ---

func TestStartSessionTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	result := call(t, NewStartSessionTool(eng).Handle, map[string]interface{}{})
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	text := getResultText(result)
	if !strings.Contains(text, "Session ID:") || !strings.Contains(text, "SCENARIO") {
		t.Errorf("unexpected response: %s", text)
	}
}

func TestTurnTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	tool := NewTurnTool(eng)

	result := call(t, tool.Handle, map[string]interface{}{
		"session_id": id,
		"utterance":  "Tuesday I had to stay until nine again",
	})
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	text := getResultText(result)
	for _, want := range []string{"# Turn 1 · SCENARIO", "Extraction queued", "## System Prompt", "You are The Mirror.", "## Conversation Window", "Tuesday I had to stay"} {
		if !strings.Contains(text, want) {
			t.Errorf("response missing %q", want)
		}
	}
}

func TestTurnTool_Handle_Ready(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)

	result := call(t, NewTurnTool(eng).Handle, map[string]interface{}{
		"session_id": id,
		"utterance":  "ok I'm ready",
		"ready":      true,
	})
	text := getResultText(result)
	if !strings.Contains(text, "SCENARIO → EXCAVATION") || !strings.Contains(text, "(forced)") {
		t.Errorf("expected a forced transition, got: %s", text)
	}
}

func TestTurnTool_Handle_Validation(t *testing.T) {
	eng := newTestEngine(t)
	tool := NewTurnTool(eng)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing session", map[string]interface{}{"utterance": "hi"}, "'session_id' is required"},
		{"missing utterance", map[string]interface{}{"session_id": "x"}, "'utterance' is required"},
		{"unknown session", map[string]interface{}{"session_id": "ghost", "utterance": "hi"}, "session not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, tool.Handle, tt.args)
			if !isErrorResult(result) {
				t.Fatal("expected error result")
			}
			if !strings.Contains(getResultText(result), tt.want) {
				t.Errorf("error = %q, want it to contain %q", getResultText(result), tt.want)
			}
		})
	}
}

func TestAskQuestionTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)

	result := call(t, NewAskQuestionTool(eng).Handle, map[string]interface{}{
		"session_id":  id,
		"question":    "What do you complain about most?",
		"options":     []interface{}{"Work", "Family", 3},
		"question_id": "complaints",
	})
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	text := getResultText(result)
	if !strings.Contains(text, "`complaints` marked as asked") {
		t.Errorf("unexpected response: %s", text)
	}

	turns, err := eng.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !turns.Session.HasAsked("complaints") {
		t.Error("question should be marked as asked")
	}
}

func TestRecordSignalTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	tool := NewRecordSignalTool(eng)

	result := call(t, tool.Handle, map[string]interface{}{
		"session_id": id,
		"domain":     "NEED",
		"type":       "autonomy",
		"content":    "Feels trapped by their manager's schedule",
		"source":     "I had to stay",
		"confidence": 0.85,
		"state":      "frustrated",
	})
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	text := getResultText(result)
	if !strings.Contains(text, "NEED/AUTONOMY [FRUSTRATED]") || !strings.Contains(text, "(high)") {
		t.Errorf("unexpected response: %s", text)
	}

	result = call(t, tool.Handle, map[string]interface{}{
		"session_id": id,
		"domain":     "VALUE",
		"type":       "AUTONOMY",
		"content":    "wrong construct",
		"confidence": 0.5,
	})
	if !isErrorResult(result) || !strings.Contains(getResultText(result), "invalid signal") {
		t.Errorf("expected invalid signal error, got: %s", getResultText(result))
	}

	result = call(t, tool.Handle, map[string]interface{}{
		"session_id": id, "domain": "VALUE", "type": "SECURITY", "content": "no confidence",
	})
	if !isErrorResult(result) {
		t.Error("missing confidence should be rejected")
	}
}

func TestExploreScenarioTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	tool := NewExploreScenarioTool(eng)

	call(t, tool.Handle, map[string]interface{}{"session_id": id})
	result := call(t, tool.Handle, map[string]interface{}{"session_id": id})
	if got := getResultText(result); !strings.Contains(got, "Scenarios explored: 2") {
		t.Errorf("unexpected response: %s", got)
	}
}

func TestRequestTransitionTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	tool := NewRequestTransitionTool(eng)

	result := call(t, tool.Handle, map[string]interface{}{"session_id": id, "to": "EXCAVATION"})
	if isErrorResult(result) {
		t.Fatalf("a denial is not a tool error: %s", getResultText(result))
	}
	if text := getResultText(result); !strings.Contains(text, "denied") || !strings.Contains(text, "Explore at least one scenario first") {
		t.Errorf("unexpected response: %s", text)
	}

	call(t, NewExploreScenarioTool(eng).Handle, map[string]interface{}{"session_id": id})
	result = call(t, tool.Handle, map[string]interface{}{"session_id": id, "to": "excavation", "reason": "scenario explored"})
	if text := getResultText(result); !strings.Contains(text, "SCENARIO → EXCAVATION") {
		t.Errorf("unexpected response: %s", text)
	}

	result = call(t, tool.Handle, map[string]interface{}{"session_id": id, "to": "NOWHERE"})
	if !isErrorResult(result) {
		t.Error("unknown phase should be a tool error")
	}
}

func TestEmitContractTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	tool := NewEmitContractTool(eng)

	result := call(t, tool.Handle, contract(id))
	if !isErrorResult(result) || !strings.Contains(getResultText(result), "not allowed in current phase") {
		t.Fatalf("expected wrong phase error, got: %s", getResultText(result))
	}

	call(t, NewRequestTransitionTool(eng).Handle, map[string]interface{}{"session_id": id, "to": "CONTRACT", "override": true})

	result = call(t, tool.Handle, contract(id))
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	text := getResultText(result)
	for _, want := range []string{"# Momentum Contract", "Dinner is offline.", "## The Contradiction", "Session closed."} {
		if !strings.Contains(text, want) {
			t.Errorf("response missing %q", want)
		}
	}

	status := call(t, NewStatusTool(eng).Handle, map[string]interface{}{"session_id": id})
	if text := getResultText(status); !strings.Contains(text, "**Closed:** yes") || !strings.Contains(text, "# Momentum Contract") {
		t.Errorf("status of a closed session should include the contract: %s", text)
	}
}

func TestEmitContractTool_Handle_Invalid(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	call(t, NewRequestTransitionTool(eng).Handle, map[string]interface{}{"session_id": id, "to": "CONTRACT", "override": true})

	args := contract(id)
	args["vote"] = strings.Repeat("x", discovery.MaxVote+1)
	result := call(t, NewEmitContractTool(eng).Handle, args)
	if !isErrorResult(result) || !strings.Contains(getResultText(result), "vote is 81 chars (max 80)") {
		t.Errorf("expected length error, got: %s", getResultText(result))
	}
}

// --- UI ---

func TestRenderUITool_Handle(t *testing.T) {
	tool := NewRenderUITool()

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr string
	}{
		{
			name: "valid",
			args: map[string]interface{}{"components": []interface{}{
				map[string]interface{}{"type": "InsightCard", "title": "Pattern", "insight": "Safety over growth"},
				map[string]interface{}{"type": "Divider"},
			}},
		},
		{
			name:    "unknown type",
			args:    map[string]interface{}{"components": []interface{}{map[string]interface{}{"type": "Carousel"}}},
			wantErr: `unknown type "Carousel"`,
		},
		{
			name:    "missing field",
			args:    map[string]interface{}{"components": []interface{}{map[string]interface{}{"type": "ContradictionCard", "stated": "x"}}},
			wantErr: `ContradictionCard needs a non-empty "actual"`,
		},
		{
			name:    "empty",
			args:    map[string]interface{}{"components": []interface{}{}},
			wantErr: "at least one component",
		},
		{
			name: "bad position",
			args: map[string]interface{}{
				"components": []interface{}{map[string]interface{}{"type": "Divider"}},
				"position":   "sideways",
			},
			wantErr: "invalid position",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, tool.Handle, tt.args)
			text := getResultText(result)
			if tt.wantErr == "" {
				if isErrorResult(result) {
					t.Fatalf("expected success, got error: %s", text)
				}
				if !strings.Contains(text, `"position": "after"`) || !strings.Contains(text, `"InsightCard"`) {
					t.Errorf("components should be echoed: %s", text)
				}
				return
			}
			if !isErrorResult(result) || !strings.Contains(text, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", text, tt.wantErr)
			}
		})
	}
}

func TestUIRequired_CoversEveryComponent(t *testing.T) {
	for _, c := range templates.UIComponents {
		if _, ok := uiRequired[c]; !ok {
			t.Errorf("component %s has no field rules", c)
		}
	}
}

// --- Status & extraction ---

func TestStatusTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)

	result := call(t, NewStatusTool(eng).Handle, map[string]interface{}{"session_id": id})
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	text := getResultText(result)
	for _, want := range []string{"# Discovery Status", "SCENARIO (0%)", "next: EXCAVATION", "⬜ VALUE (0)", "Barrier:"} {
		if !strings.Contains(text, want) {
			t.Errorf("response missing %q", want)
		}
	}
}

func TestExtractionStatsTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)

	result := call(t, NewExtractionStatsTool(eng).Handle, map[string]interface{}{"session_id": id})
	if isErrorResult(result) {
		t.Fatalf("expected success, got error: %s", getResultText(result))
	}
	if text := getResultText(result); !strings.Contains(text, "| **total** | 0 |") {
		t.Errorf("unexpected response: %s", text)
	}
}

func TestRetryExtractionTool_Handle(t *testing.T) {
	eng := newTestEngine(t)
	id := startSession(t, eng)
	tool := NewRetryExtractionTool(eng)

	result := call(t, tool.Handle, map[string]interface{}{"session_id": id})
	if !isErrorResult(result) {
		t.Error("missing job_id should be rejected")
	}

	result = call(t, tool.Handle, map[string]interface{}{"session_id": id, "job_id": "ghost"})
	if !isErrorResult(result) || !strings.Contains(getResultText(result), "extraction job not found") {
		t.Errorf("expected not found, got: %s", getResultText(result))
	}
}

func TestRenderTurn_UnscheduledJobStaysPending(t *testing.T) {
	text := renderTurn(&engine.TurnResult{
		Session: &discovery.Session{ID: "s1", Phase: discovery.PhaseExcavation, TotalTurns: 3},
		JobID:   "job-3",
		Context: &assembler.Payload{SystemPrompt: "prompt"},
	})
	if !strings.Contains(text, "job `job-3` stays PENDING") {
		t.Errorf("expected pending notice, got: %s", text)
	}
	if !strings.Contains(text, "discovery_retry_extraction") {
		t.Errorf("expected retry hint, got: %s", text)
	}
}
