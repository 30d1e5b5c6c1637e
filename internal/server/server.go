// Package server wires every mirror component together and creates the
// MCP server.
//
// This is the composition root: it opens the store, starts the extraction
// workers, recovers jobs a previous process left in flight and registers
// the discovery tools, prompts and resources.
package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/mirror/internal/assembler"
	"github.com/HendryAvila/mirror/internal/classifier"
	"github.com/HendryAvila/mirror/internal/config"
	"github.com/HendryAvila/mirror/internal/engine"
	"github.com/HendryAvila/mirror/internal/extraction"
	"github.com/HendryAvila/mirror/internal/observe"
	"github.com/HendryAvila/mirror/internal/prompts"
	"github.com/HendryAvila/mirror/internal/resources"
	"github.com/HendryAvila/mirror/internal/store"
	"github.com/HendryAvila/mirror/internal/templates"
	"github.com/HendryAvila/mirror/internal/tools"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// App is the wired application: the MCP server plus the engine the HTTP
// front door shares with it.
type App struct {
	MCP      *server.MCPServer
	Engine   *engine.Engine
	Recorder *observe.Recorder
}

// New builds the application from cfg. The returned cleanup drains the
// extraction workers and closes the store; call it on every exit path.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// --- Storage ---

	st, err := store.New(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}

	// --- Templates ---

	catalog, err := templates.LoadCatalog()
	if err != nil {
		st.Close()
		return nil, noop, fmt.Errorf("loading phase catalog: %w", err)
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		st.Close()
		return nil, noop, fmt.Errorf("creating template renderer: %w", err)
	}

	// --- Extraction ---

	cls, err := classifier.New(ctx, cfg.Extraction, logger.Named("classifier"))
	if err != nil {
		st.Close()
		return nil, noop, fmt.Errorf("creating classifier: %w", err)
	}

	recorder := observe.NewRecorder(logger.Named("metrics"))
	queue := extraction.NewQueue(st, extraction.FailedPolicy(cfg.Extraction.FailedPolicy), logger.Named("queue"))
	sched := extraction.NewScheduler(queue, cls, recorder, logger.Named("scheduler"), cfg.Extraction.Scheduler())
	sched.Start(context.WithoutCancel(ctx))

	eng := engine.New(engine.Deps{
		Repo:      st,
		Queue:     queue,
		Scheduler: sched,
		Assembler: assembler.New(catalog, renderer, cfg.Context),
		Catalog:   catalog,
		Renderer:  renderer,
		Observer:  recorder,
		Logger:    logger.Named("engine"),
		Config: engine.Config{
			Thresholds: cfg.Thresholds,
			Density:    cfg.Density,
		},
	})

	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("draining extraction workers", zap.Error(err))
		}
		if err := st.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}

	if _, err := sched.Recover(ctx); err != nil {
		logger.Warn("recovering in-flight extractions", zap.Error(err))
	}

	// --- MCP ---

	s := server.NewMCPServer(
		"mirror",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerTools(s, eng)

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	resourceHandler := resources.NewHandler(eng)
	s.AddResourceTemplate(resourceHandler.SessionTemplate(), resourceHandler.HandleSession)

	return &App{MCP: s, Engine: eng, Recorder: recorder}, cleanup, nil
}

func noop() {}

func registerTools(s *server.MCPServer, eng *engine.Engine) {
	startSession := tools.NewStartSessionTool(eng)
	s.AddTool(startSession.Definition(), startSession.Handle)

	turn := tools.NewTurnTool(eng)
	s.AddTool(turn.Definition(), turn.Handle)

	askQuestion := tools.NewAskQuestionTool(eng)
	s.AddTool(askQuestion.Definition(), askQuestion.Handle)

	recordSignal := tools.NewRecordSignalTool(eng)
	s.AddTool(recordSignal.Definition(), recordSignal.Handle)

	exploreScenario := tools.NewExploreScenarioTool(eng)
	s.AddTool(exploreScenario.Definition(), exploreScenario.Handle)

	requestTransition := tools.NewRequestTransitionTool(eng)
	s.AddTool(requestTransition.Definition(), requestTransition.Handle)

	emitContract := tools.NewEmitContractTool(eng)
	s.AddTool(emitContract.Definition(), emitContract.Handle)

	renderUI := tools.NewRenderUITool()
	s.AddTool(renderUI.Definition(), renderUI.Handle)

	status := tools.NewStatusTool(eng)
	s.AddTool(status.Definition(), status.Handle)

	extractionStats := tools.NewExtractionStatsTool(eng)
	s.AddTool(extractionStats.Definition(), extractionStats.Handle)

	retryExtraction := tools.NewRetryExtractionTool(eng)
	s.AddTool(retryExtraction.Definition(), retryExtraction.Handle)
}

// serverInstructions tells the AI how to run a discovery conversation
// with these tools.
func serverInstructions() string {
	return `You have access to The Mirror, a discovery conversation engine.

## What it does
The Mirror helps a person see what actually drives them. The conversation
moves through four phases, in order:
1. SCENARIO: walk through concrete, recent situations
2. EXCAVATION: dig into what those situations reveal
3. SYNTHESIS: reflect the pattern back, with their own words as evidence
4. CONTRACT: agree on a Momentum Contract

## CRITICAL: How the tools work
The engine decides when phases change. You do not.

1. Call discovery_start_session once and keep the session_id
2. For EVERY user message, call discovery_turn FIRST
3. Answer following the system prompt discovery_turn returns
4. Record signals you notice with discovery_record_signal
5. Ask required questions through discovery_ask_question with their question_id
6. Call discovery_explore_scenario after exploring a scenario in depth
7. Ask for phase changes with discovery_request_transition

A denied transition is normal. Read the reason, follow the recommendation,
keep talking and ask again later. Never tell the user you are "moving to
synthesis" before the engine confirms it.

## Extraction
Every user message is classified in the background. Synthesis waits until
every extraction has finished. Use discovery_extraction_stats to check, and
discovery_retry_extraction for FAILED jobs.

## Finishing
In CONTRACT, call discovery_emit_contract with six short, specific lines and
3-7 direct quotes from the user. Emitting closes the session.

Use discovery_render_ui for insight cards, mirror statements and contract
lines when the client can render them. Use discovery_status when unsure
where the session stands.`
}
