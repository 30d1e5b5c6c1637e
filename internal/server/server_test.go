package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HendryAvila/mirror/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Extraction.Workers = 1
	return &cfg
}

// rpc sends one JSON-RPC request through the server and returns the
// encoded response.
func rpc(t *testing.T, app *App, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp := app.MCP.HandleMessage(context.Background(), raw)
	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.NotContains(t, decoded, "error")
	return decoded
}

func names(t *testing.T, resp map[string]any, key string) []string {
	t.Helper()
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "result missing: %v", resp)
	items, ok := result[key].([]any)
	require.True(t, ok, "%s missing: %v", key, result)

	var out []string
	for _, it := range items {
		m := it.(map[string]any)
		if n, ok := m["name"].(string); ok {
			out = append(out, n)
		}
	}
	return out
}

func TestNew_RegistersDiscoverySurface(t *testing.T) {
	app, cleanup, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer cleanup()

	rpc(t, app, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
	})

	tools := names(t, rpc(t, app, "tools/list", map[string]any{}), "tools")
	assert.ElementsMatch(t, []string{
		"discovery_start_session",
		"discovery_turn",
		"discovery_ask_question",
		"discovery_record_signal",
		"discovery_explore_scenario",
		"discovery_request_transition",
		"discovery_emit_contract",
		"discovery_render_ui",
		"discovery_status",
		"discovery_extraction_stats",
		"discovery_retry_extraction",
	}, tools)

	prompts := names(t, rpc(t, app, "prompts/list", map[string]any{}), "prompts")
	assert.ElementsMatch(t, []string{"discovery-start", "discovery-status"}, prompts)

	templates := names(t, rpc(t, app, "resources/templates/list", map[string]any{}), "resourceTemplates")
	assert.Equal(t, []string{"Discovery Session"}, templates)
}

func TestNew_RecoversInFlightJobs(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, cleanup, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	sess, err := app.Engine.StartSession(ctx)
	require.NoError(t, err)
	res, err := app.Engine.Turn(ctx, sess.ID, "I had to cancel on my friends again", false)
	require.NoError(t, err)
	cleanup()

	// The drain in cleanup finishes the job; reopening must see it done.
	app, cleanup, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	defer cleanup()

	st, err := app.Engine.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, st.Barrier.Ready, "job %s should be finished", res.JobID)
	assert.Equal(t, 1, st.Extraction.Completed)
}

func TestNew_InvalidClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Extraction.Classifier = "oracle"
	_, cleanup, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
	cleanup()
}
