// Package engine is the discovery turn handler. It composes the
// repositories, the extraction queue and scheduler, the context assembler
// and the observer behind the operations the transports expose.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/mirror/internal/assembler"
	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/extraction"
	"github.com/HendryAvila/mirror/internal/observe"
	"github.com/HendryAvila/mirror/internal/templates"
)

// Artifact kinds stored for a finished session.
const (
	ArtifactContract         = "contract"
	ArtifactContractMarkdown = "contract.md"
)

// --- Repositories ---

// SessionRepo persists sessions and their turns.
type SessionRepo interface {
	CreateSession(ctx context.Context, sess *discovery.Session) error
	GetSession(ctx context.Context, id string) (*discovery.Session, error)
	RecordUserTurn(ctx context.Context, id, content string) (*discovery.Session, *discovery.Turn, error)
	AppendTurn(ctx context.Context, id string, role discovery.Role, content string) (*discovery.Turn, error)
	ListTurns(ctx context.Context, id string) ([]discovery.Turn, error)
	IncrementScenarios(ctx context.Context, id string) (*discovery.Session, error)
	MarkQuestionAsked(ctx context.Context, id, questionID string) (*discovery.Session, error)
	TransitionPhase(ctx context.Context, id string, from, to discovery.Phase) (*discovery.Session, error)
	SetPendingAdvance(ctx context.Context, id string, from, to discovery.Phase, reason string) (*discovery.Session, error)
	CloseSession(ctx context.Context, id string) (*discovery.Session, error)
}

// SignalRepo persists signals recorded outside extraction jobs.
type SignalRepo interface {
	AddSignal(ctx context.Context, sig *discovery.Signal) error
	ListSignals(ctx context.Context, sessionID string) ([]discovery.Signal, error)
}

// ArtifactRepo persists terminal outputs.
type ArtifactRepo interface {
	SaveArtifact(ctx context.Context, sessionID, kind, body string) error
	GetArtifact(ctx context.Context, sessionID, kind string) (string, error)
}

// Repo is everything the engine reads and writes. store.Store implements it.
type Repo interface {
	SessionRepo
	SignalRepo
	ArtifactRepo
}

// --- Engine ---

// Config holds the guard thresholds.
type Config struct {
	Thresholds discovery.Thresholds
	Density    discovery.DensityConfig
}

// Deps are the engine's collaborators.
type Deps struct {
	Repo      Repo
	Queue     *extraction.Queue
	Scheduler *extraction.Scheduler
	Assembler *assembler.Assembler
	Catalog   *templates.Catalog
	Renderer  templates.Renderer
	Observer  observe.Observer
	Logger    *zap.Logger
	Config    Config
}

// Engine implements the discovery operations.
type Engine struct {
	repo     Repo
	queue    *extraction.Queue
	sched    *extraction.Scheduler
	asm      *assembler.Assembler
	catalog  *templates.Catalog
	renderer templates.Renderer
	obs      observe.Observer
	log      *zap.Logger
	cfg      Config
}

// New creates an Engine. The scheduler must already be started.
func New(d Deps) *Engine {
	if d.Observer == nil {
		d.Observer = observe.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		repo:     d.Repo,
		queue:    d.Queue,
		sched:    d.Scheduler,
		asm:      d.Assembler,
		catalog:  d.Catalog,
		renderer: d.Renderer,
		obs:      d.Observer,
		log:      d.Logger,
		cfg:      d.Config,
	}
}

// Close drains the extraction workers.
func (e *Engine) Close() error {
	return e.sched.Close()
}

// StartSession creates a session in SCENARIO.
func (e *Engine) StartSession(ctx context.Context) (*discovery.Session, error) {
	sess := &discovery.Session{ID: uuid.NewString(), Phase: discovery.PhaseScenario}
	if err := e.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	e.obs.SessionStarted(sess.ID)
	e.log.Info("session started", zap.String("session_id", sess.ID))
	return sess, nil
}

// Session returns a session by id.
func (e *Engine) Session(ctx context.Context, id string) (*discovery.Session, error) {
	return e.repo.GetSession(ctx, id)
}

// openSession loads a session and rejects closed ones.
func (e *Engine) openSession(ctx context.Context, id string) (*discovery.Session, error) {
	sess, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Closed {
		return nil, fmt.Errorf("%w: %q", discovery.ErrSessionClosed, id)
	}
	return sess, nil
}

// --- Turn ---

// TurnResult is what a caller needs after one user utterance.
type TurnResult struct {
	Session          *discovery.Session     `json:"session"`
	Turn             *discovery.Turn        `json:"turn"`
	JobID            string                 `json:"job_id"`
	ExtractionQueued bool                   `json:"extraction_queued"`
	Forced           *TransitionOutcome     `json:"forced,omitempty"`
	Context          *assembler.Payload     `json:"context"`
	Coverage         discovery.Coverage     `json:"coverage"`
	Density          discovery.DensityStats `json:"density"`
	Health           discovery.Health       `json:"health"`
}

// Turn records a user utterance, schedules its extraction, applies any
// forced transition and assembles the next context. It does not wait for
// extraction.
func (e *Engine) Turn(ctx context.Context, id, utterance string, ready bool) (*TurnResult, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, fmt.Errorf("turn: utterance is required")
	}
	if _, err := e.openSession(ctx, id); err != nil {
		return nil, err
	}

	sess, turn, err := e.repo.RecordUserTurn(ctx, id, utterance)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	e.obs.TurnRecorded(id, sess.TotalTurns)

	res := &TurnResult{Session: sess, Turn: turn}
	uttered := sess.Phase

	signals, err := e.repo.ListSignals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	// Forced moves are decided before this utterance is queued, so the
	// barrier only counts extractions of earlier turns.
	sess, res.Forced, err = e.applyForced(ctx, sess, len(signals), ready)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	res.Session = sess

	job, err := e.queue.Enqueue(ctx, id, uttered, sess.TotalTurns, utterance)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	res.JobID = job.ID
	res.ExtractionQueued = e.submit(job.ID)

	res.Coverage = discovery.CheckCoverage(signals)
	res.Density = discovery.CheckDensity(signals, sess.TotalTurns, e.cfg.Density)
	res.Health = discovery.SessionHealth(discovery.HealthContext{
		TotalTurns:     sess.TotalTurns,
		TurnsInPhase:   sess.TurnsInPhase,
		SignalCount:    len(signals),
		LastSignalTurn: lastSignalTurn(signals),
	})

	turns, err := e.repo.ListTurns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	res.Context, err = e.asm.Build(assembler.Input{
		Session: sess,
		Signals: signals,
		Turns:   turns,
		Alerts: []string{
			discovery.DensityPromptInjection(res.Density),
			discovery.CoveragePromptInjection(res.Coverage),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	if !assembler.WithinBudget(res.Context, e.asm.Budget()) {
		e.log.Warn("context over token budget",
			zap.String("session_id", id),
			zap.Int("tokens", res.Context.EstimatedTokens),
			zap.Int("budget", e.asm.Budget()),
		)
	}
	return res, nil
}

// applyForced executes a forced move, either triggered now or left
// pending by an earlier turn. A forced move that its guards deny is stored
// on the session and retried on every later turn until it applies or the
// phase changes some other way.
func (e *Engine) applyForced(ctx context.Context, sess *discovery.Session, signalCount int, ready bool) (*discovery.Session, *TransitionOutcome, error) {
	forced := discovery.ShouldForceTransition(discovery.ForceContext{
		CurrentPhase:         sess.Phase,
		SignalCount:          signalCount,
		UserRequestedAdvance: ready,
	}, e.cfg.Thresholds)
	if forced == nil && sess.PendingAdvance != "" && sess.PendingAdvance == discovery.NextPhase(sess.Phase) {
		forced = &discovery.ForcedTransition{To: sess.PendingAdvance, Reason: sess.PendingReason}
	}
	if forced == nil {
		return sess, nil, nil
	}

	outcome, err := e.transition(ctx, sess, forced.To, forced.Reason, true, false)
	if errors.Is(err, discovery.ErrPhaseConflict) {
		e.log.Info("forced transition lost a race", zap.String("session_id", sess.ID), zap.Error(err))
		current, err := e.repo.GetSession(ctx, sess.ID)
		return current, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	if outcome.Applied {
		return outcome.Session, outcome, nil
	}

	if sess.PendingAdvance != forced.To {
		updated, err := e.repo.SetPendingAdvance(ctx, sess.ID, sess.Phase, forced.To, forced.Reason)
		if err != nil {
			return nil, nil, err
		}
		sess = updated
		outcome.Session = updated
	}
	return sess, outcome, nil
}

// submit hands a job to the workers. A job the pool cannot take stays
// PENDING and keeps holding the barrier; RetryExtraction resubmits it and
// Recover picks it up on the next start.
func (e *Engine) submit(jobID string) bool {
	err := e.sched.Submit(jobID)
	if err == nil {
		return true
	}
	e.log.Warn("extraction not scheduled", zap.String("job_id", jobID), zap.Error(err))
	return false
}

func lastSignalTurn(signals []discovery.Signal) int {
	last := 0
	for _, s := range signals {
		if s.Turn > last {
			last = s.Turn
		}
	}
	return last
}

// --- Signals, scenarios, questions ---

// RecordSignal stores a signal synchronously. Only SCENARIO and
// EXCAVATION accept direct signals.
func (e *Engine) RecordSignal(ctx context.Context, id string, draft discovery.SignalDraft) (*discovery.Signal, error) {
	sess, err := e.openSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Phase != discovery.PhaseScenario && sess.Phase != discovery.PhaseExcavation {
		return nil, fmt.Errorf("%w: signals are recorded in SCENARIO or EXCAVATION, session is in %s",
			discovery.ErrWrongPhase, sess.Phase)
	}

	sig, err := discovery.NewSignal(id, sess.TotalTurns, draft)
	if err != nil {
		return nil, err
	}
	if err := e.repo.AddSignal(ctx, &sig); err != nil {
		return nil, fmt.Errorf("record signal: %w", err)
	}
	e.obs.SignalRecorded(id, string(sig.Domain), true)
	return &sig, nil
}

// ExploreScenario counts one explored scenario.
func (e *Engine) ExploreScenario(ctx context.Context, id string) (*discovery.Session, error) {
	if _, err := e.openSession(ctx, id); err != nil {
		return nil, err
	}
	return e.repo.IncrementScenarios(ctx, id)
}

// AskResult is the outcome of AskQuestion.
type AskResult struct {
	Session      *discovery.Session  `json:"session"`
	Turn         *discovery.Turn     `json:"turn"`
	NextRequired *templates.Question `json:"next_required,omitempty"`
}

// AskQuestion records an assistant question, with optional choices, and
// marks a required question as asked when questionID is set.
func (e *Engine) AskQuestion(ctx context.Context, id, question string, options []string, questionID string) (*AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("ask question: question is required")
	}
	if questionID != "" {
		if _, ok := e.catalog.Question(questionID); !ok {
			return nil, fmt.Errorf("ask question: unknown required question %q", questionID)
		}
	}
	sess, err := e.openSession(ctx, id)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(question)
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	turn, err := e.repo.AppendTurn(ctx, id, discovery.RoleAssistant, b.String())
	if err != nil {
		return nil, fmt.Errorf("ask question: %w", err)
	}

	if questionID != "" {
		if sess, err = e.repo.MarkQuestionAsked(ctx, id, questionID); err != nil {
			return nil, fmt.Errorf("ask question: %w", err)
		}
	}

	res := &AskResult{Session: sess, Turn: turn}
	if next := e.catalog.Unasked(sess.Phase, sess.AskedQuestions); len(next) > 0 {
		res.NextRequired = &next[0]
	}
	return res, nil
}

// --- Transitions ---

// TransitionOutcome reports a transition attempt. Denials are outcomes,
// not errors.
type TransitionOutcome struct {
	From     discovery.Phase            `json:"from"`
	To       discovery.Phase            `json:"to"`
	Applied  bool                       `json:"applied"`
	Forced   bool                       `json:"forced"`
	Reason   string                     `json:"reason,omitempty"`
	Decision discovery.TransitionResult `json:"decision"`
	Density  *discovery.GateResult      `json:"density,omitempty"`
	Session  *discovery.Session         `json:"session"`
}

// RequestTransition evaluates and, when allowed, applies a move to `to`.
// A concurrent transition that wins first yields ErrPhaseConflict.
func (e *Engine) RequestTransition(ctx context.Context, id string, to discovery.Phase, reason string, override bool) (*TransitionOutcome, error) {
	to, err := discovery.ParsePhase(string(to))
	if err != nil {
		return nil, err
	}
	sess, err := e.openSession(ctx, id)
	if err != nil {
		return nil, err
	}

	// A move the engine already demands keeps its forced semantics when
	// requested explicitly: a pending advance, or the signal upper bound.
	forced := sess.PendingAdvance != "" && sess.PendingAdvance == to
	if forced {
		if reason == "" {
			reason = sess.PendingReason
		}
	} else {
		signals, err := e.repo.ListSignals(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("transition: %w", err)
		}
		f := discovery.ShouldForceTransition(discovery.ForceContext{
			CurrentPhase: sess.Phase,
			SignalCount:  len(signals),
		}, e.cfg.Thresholds)
		if f != nil && f.To == to {
			forced = true
			if reason == "" {
				reason = f.Reason
			}
		}
	}
	return e.transition(ctx, sess, to, reason, forced, override)
}

func (e *Engine) transition(ctx context.Context, sess *discovery.Session, to discovery.Phase, reason string, forced, override bool) (*TransitionOutcome, error) {
	signals, err := e.repo.ListSignals(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	barrier, err := e.queue.CanSynthesize(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	high := discovery.CountHighConfidence(signals)
	tctx := discovery.TransitionContext{
		SignalCount:           len(signals),
		HighConfidenceSignals: high,
		ScenariosExplored:     sess.ScenariosExplored,
		UserOverride:          override,
		Coverage:              discovery.CheckCoverage(signals),
		PendingExtractions:    barrier.PendingCount,
		BarrierMessage:        barrier.Message,
	}

	out := &TransitionOutcome{From: sess.Phase, To: to, Forced: forced, Reason: reason, Session: sess}

	switch {
	case forced && to == discovery.PhaseSynthesis:
		// Forced moves skip the count guards but never coverage or the barrier.
		out.Decision = discovery.CheckSynthesisReadiness(tctx)
	case forced:
		out.Decision = discovery.TransitionResult{Allowed: true, Reason: reason}
	default:
		out.Decision = discovery.CanTransition(sess.Phase, to, tctx, e.cfg.Thresholds)
		// The density gate is independent of the phase machine; override
		// does not lift it.
		if out.Decision.Allowed && to == discovery.PhaseSynthesis {
			gate := discovery.CanProceedToSynthesis(len(signals), high, e.cfg.Density)
			out.Density = &gate
			if !gate.Allowed {
				out.Decision = discovery.TransitionResult{
					Reason:         gate.Reason,
					Recommendation: discovery.ExtractionReminder(),
				}
			}
		}
	}

	if !out.Decision.Allowed {
		e.obs.TransitionDenied(sess.ID, string(to), out.Decision.Reason)
		e.log.Debug("transition denied",
			zap.String("session_id", sess.ID),
			zap.String("from", string(sess.Phase)),
			zap.String("to", string(to)),
			zap.Bool("forced", forced),
			zap.String("reason", out.Decision.Reason),
		)
		return out, nil
	}

	updated, err := e.repo.TransitionPhase(ctx, sess.ID, sess.Phase, to)
	if err != nil {
		return nil, err
	}
	out.Applied = true
	out.Session = updated
	e.obs.PhaseChanged(sess.ID, string(sess.Phase), string(to), forced)
	return out, nil
}

// --- Contract ---

// ContractResult is the emitted artifact.
type ContractResult struct {
	Session  *discovery.Session `json:"session"`
	Contract discovery.Contract `json:"contract"`
	Markdown string             `json:"markdown"`
}

// EmitContract validates and stores the contract, then closes the
// session. Only sessions in CONTRACT can emit.
func (e *Engine) EmitContract(ctx context.Context, id string, c discovery.Contract) (*ContractResult, error) {
	sess, err := e.openSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Phase != discovery.PhaseContract {
		return nil, fmt.Errorf("%w: contracts are emitted in CONTRACT, session is in %s",
			discovery.ErrWrongPhase, sess.Phase)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	md, err := e.renderer.Render(templates.Contract, c)
	if err != nil {
		return nil, fmt.Errorf("emit contract: %w", err)
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("emit contract: %w", err)
	}
	if err := e.repo.SaveArtifact(ctx, id, ArtifactContract, string(body)); err != nil {
		return nil, fmt.Errorf("emit contract: %w", err)
	}
	if err := e.repo.SaveArtifact(ctx, id, ArtifactContractMarkdown, md); err != nil {
		return nil, fmt.Errorf("emit contract: %w", err)
	}

	if sess, err = e.repo.CloseSession(ctx, id); err != nil {
		return nil, fmt.Errorf("emit contract: %w", err)
	}
	e.obs.SessionEnded(id)
	e.log.Info("contract emitted", zap.String("session_id", id))
	return &ContractResult{Session: sess, Contract: c, Markdown: md}, nil
}

// --- Status & extraction ---

// Status is a full read-only view of a session.
type Status struct {
	Session        *discovery.Session     `json:"session"`
	Progress       int                    `json:"progress"`
	NextPhase      discovery.Phase        `json:"next_phase,omitempty"`
	SignalCount    int                    `json:"signal_count"`
	HighConfidence int                    `json:"high_confidence"`
	Coverage       discovery.Coverage     `json:"coverage"`
	Density        discovery.DensityStats `json:"density"`
	Barrier        extraction.Barrier     `json:"barrier"`
	Extraction     extraction.Stats       `json:"extraction"`
	Health         discovery.Health       `json:"health"`
	Contract       string                 `json:"contract,omitempty"`
}

// Status gathers everything known about a session.
func (e *Engine) Status(ctx context.Context, id string) (*Status, error) {
	sess, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	signals, err := e.repo.ListSignals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	barrier, err := e.queue.CanSynthesize(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	stats, err := e.queue.Stats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	st := &Status{
		Session:        sess,
		Progress:       discovery.PhaseProgress(sess.Phase),
		NextPhase:      discovery.NextPhase(sess.Phase),
		SignalCount:    len(signals),
		HighConfidence: discovery.CountHighConfidence(signals),
		Coverage:       discovery.CheckCoverage(signals),
		Density:        discovery.CheckDensity(signals, sess.TotalTurns, e.cfg.Density),
		Barrier:        barrier,
		Extraction:     stats,
		Health: discovery.SessionHealth(discovery.HealthContext{
			TotalTurns:     sess.TotalTurns,
			TurnsInPhase:   sess.TurnsInPhase,
			SignalCount:    len(signals),
			LastSignalTurn: lastSignalTurn(signals),
		}),
	}
	if sess.Closed {
		if st.Contract, err = e.repo.GetArtifact(ctx, id, ArtifactContractMarkdown); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
	}
	return st, nil
}

// Barrier reports whether the session's extractions have all finished.
func (e *Engine) Barrier(ctx context.Context, id string) (extraction.Barrier, error) {
	return e.queue.CanSynthesize(ctx, id)
}

// ExtractionStats returns per-status job counts for a session.
func (e *Engine) ExtractionStats(ctx context.Context, id string) (extraction.Stats, error) {
	return e.queue.Stats(ctx, id)
}

// RetryExtraction schedules a job of the session again. A PENDING job the
// workers never took is resubmitted as is; a FAILED job is requeued as a
// new linked job.
func (e *Engine) RetryExtraction(ctx context.Context, id, jobID string) (*extraction.Job, error) {
	if _, err := e.openSession(ctx, id); err != nil {
		return nil, err
	}
	old, err := e.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if old.SessionID != id {
		return nil, fmt.Errorf("%w: %q in session %q", discovery.ErrJobNotFound, jobID, id)
	}
	if old.Status == extraction.StatusPending {
		if err := e.sched.Submit(old.ID); err != nil {
			return nil, fmt.Errorf("resubmit job %s: %w", old.ID, err)
		}
		return old, nil
	}
	job, err := e.queue.Requeue(ctx, jobID)
	if err != nil {
		return nil, err
	}
	e.submit(job.ID)
	return job, nil
}
