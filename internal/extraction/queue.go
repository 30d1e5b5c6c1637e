package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// --- Failed-job policy ---

// FailedPolicy decides whether FAILED jobs hold the synthesis barrier.
type FailedPolicy string

const (
	// FailedResolved treats a failed job as final: its utterance simply
	// contributed no evidence.
	FailedResolved FailedPolicy = "resolved"
	// FailedBlocking holds the barrier until every failed job has been
	// requeued.
	FailedBlocking FailedPolicy = "blocking"
)

// ValidateFailedPolicy returns an error if the policy is not recognized.
func ValidateFailedPolicy(p FailedPolicy) error {
	switch p {
	case FailedResolved, FailedBlocking:
		return nil
	}
	return fmt.Errorf("invalid failed policy %q: must be one of: resolved, blocking", p)
}

// Barrier is the point-in-time answer to "may this session synthesize?".
type Barrier struct {
	Ready        bool   `json:"ready"`
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
	Message      string `json:"message"`
}

// Stats summarizes extraction for a session.
type Stats struct {
	TotalJobs            int     `json:"total_jobs"`
	Pending              int     `json:"pending"`
	Processing           int     `json:"processing"`
	Completed            int     `json:"completed"`
	Failed               int     `json:"failed"`
	TotalSignals         int     `json:"total_signals"`
	AvgSignalsPerMessage float64 `json:"avg_signals_per_message"`
}

// Queue owns job rows: it is the only writer of job status and of the
// signals produced by jobs.
type Queue struct {
	repo   JobRepo
	policy FailedPolicy
	log    *zap.Logger
}

// NewQueue creates a Queue. An empty policy means FailedResolved.
func NewQueue(repo JobRepo, policy FailedPolicy, logger *zap.Logger) *Queue {
	if policy == "" {
		policy = FailedResolved
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{repo: repo, policy: policy, log: logger}
}

// Policy returns the active failed-job policy.
func (q *Queue) Policy() FailedPolicy {
	return q.policy
}

// Enqueue records a PENDING job for an utterance. Unknown sessions fail
// with discovery.ErrSessionNotFound.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, phase discovery.Phase, turn int, text string) (*Job, error) {
	now := discovery.FormatTime(timeNow())
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Phase:     phase,
		Turn:      turn,
		Text:      text,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue extraction: %w", err)
	}
	q.log.Debug("extraction enqueued",
		zap.String("job_id", job.ID),
		zap.String("session_id", sessionID),
		zap.Int("turn", turn),
	)
	return job, nil
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.repo.GetJob(ctx, id)
}

// MarkProcessing claims a PENDING job. It returns false, without error,
// when the job was already claimed or is terminal.
func (q *Queue) MarkProcessing(ctx context.Context, id string) (bool, error) {
	ok, err := q.repo.TransitionJob(ctx, id, []Status{StatusPending}, StatusProcessing, "")
	if err != nil {
		return false, fmt.Errorf("mark job %s processing: %w", id, err)
	}
	return ok, nil
}

// Complete stores the job's signals and marks it COMPLETED. Completing a
// terminal job is a no-op that returns false.
func (q *Queue) Complete(ctx context.Context, id string, signals []discovery.Signal) (bool, error) {
	ok, err := q.repo.CompleteJob(ctx, id, signals)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if !ok {
		q.log.Debug("duplicate completion ignored", zap.String("job_id", id))
	}
	return ok, nil
}

// Fail marks the job FAILED with a message. Failing a terminal job is a
// no-op that returns false.
func (q *Queue) Fail(ctx context.Context, id, msg string) (bool, error) {
	ok, err := q.repo.TransitionJob(ctx, id, []Status{StatusPending, StatusProcessing}, StatusFailed, msg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	return ok, nil
}

// CanSynthesize counts jobs not yet terminal for the session. Under
// FailedBlocking, failed jobs that were never requeued count too.
func (q *Queue) CanSynthesize(ctx context.Context, sessionID string) (Barrier, error) {
	c, err := q.repo.CountJobs(ctx, sessionID)
	if err != nil {
		return Barrier{}, fmt.Errorf("barrier check: %w", err)
	}

	b := Barrier{PendingCount: c.Pending + c.Processing, FailedCount: c.Failed}
	if q.policy == FailedBlocking {
		b.PendingCount += c.FailedUnretried
	}

	if b.PendingCount == 0 {
		b.Ready = true
		b.Message = "All extractions complete. Safe to synthesize."
		return b, nil
	}

	b.Message = fmt.Sprintf("Waiting for %d extraction(s) to complete before synthesis.", b.PendingCount)
	if q.policy == FailedBlocking && c.FailedUnretried > 0 {
		b.Message += fmt.Sprintf(" %d failed extraction(s) must be retried.", c.FailedUnretried)
	}
	return b, nil
}

// Stats returns per-status job counts and signal yield for a session.
func (q *Queue) Stats(ctx context.Context, sessionID string) (Stats, error) {
	c, err := q.repo.CountJobs(ctx, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("extraction stats: %w", err)
	}
	st := Stats{
		TotalJobs:    c.Total(),
		Pending:      c.Pending,
		Processing:   c.Processing,
		Completed:    c.Completed,
		Failed:       c.Failed,
		TotalSignals: c.Signals,
	}
	if c.Completed > 0 {
		st.AvgSignalsPerMessage = float64(c.Signals) / float64(c.Completed)
	}
	return st, nil
}

// ErrNotRetryable is returned by Requeue for a job that is not FAILED or
// has already been requeued.
var ErrNotRetryable = errors.New("job cannot be requeued")

// Requeue creates a fresh PENDING job for a FAILED job's utterance and
// links the two. The failed job keeps its status. Concurrent requeues of
// the same job produce exactly one retry.
func (q *Queue) Requeue(ctx context.Context, id string) (*Job, error) {
	old, err := q.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	now := discovery.FormatTime(timeNow())
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: old.SessionID,
		Phase:     old.Phase,
		Turn:      old.Turn,
		Text:      old.Text,
		Status:    StatusPending,
		RetryOf:   old.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.repo.CreateRetryJob(ctx, old.ID, job); err != nil {
		return nil, fmt.Errorf("requeue job %s: %w", id, err)
	}
	q.log.Info("extraction requeued", zap.String("job_id", old.ID), zap.String("retry_id", job.ID))
	return job, nil
}

// Stale lists PROCESSING jobs that have not been touched for longer than
// olderThan. Nothing in the core acts on them.
func (q *Queue) Stale(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	cutoff := discovery.FormatTime(timeNow().Add(-olderThan))
	return q.repo.StaleJobs(ctx, cutoff)
}

// InFlight lists jobs across all sessions that are not terminal yet.
func (q *Queue) InFlight(ctx context.Context) ([]Job, error) {
	return q.repo.ListJobs(ctx, Filter{Statuses: []Status{StatusPending, StatusProcessing}})
}
