// Package extraction turns utterances into signals asynchronously.
//
// Each utterance becomes a Job with a monotonic lifecycle
// (PENDING → PROCESSING → COMPLETED|FAILED). A Scheduler runs jobs on a
// worker pool; the Queue exposes the synthesis barrier that reports
// whether any job of a session is still in flight.
package extraction

import (
	"context"
	"fmt"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// --- Job status enum ---

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// statusRank orders statuses; both terminal states share the top rank.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if _, ok := statusRank[s]; !ok {
		return fmt.Errorf("invalid job status %q: must be one of: PENDING, PROCESSING, COMPLETED, FAILED", s)
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanMove reports whether a job may go from one status to another.
// Transitions only move forward and never leave a terminal state.
func CanMove(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// Job is one "classify this utterance" unit of work.
type Job struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Phase       discovery.Phase `json:"phase"`
	Turn        int             `json:"turn"`
	Text        string          `json:"text"`
	Status      Status          `json:"status"`
	SignalCount int             `json:"signal_count"`
	Error       string          `json:"error,omitempty"`
	RetryOf     string          `json:"retry_of,omitempty"`
	RetriedBy   string          `json:"retried_by,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// Counts aggregates the jobs of one session by status.
type Counts struct {
	Pending         int `json:"pending"`
	Processing      int `json:"processing"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	FailedUnretried int `json:"failed_unretried"`
	Signals         int `json:"signals"`
}

// Total returns the number of jobs counted.
func (c Counts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Failed
}

// Filter selects jobs for ListJobs. Empty fields match everything.
type Filter struct {
	SessionID string
	Statuses  []Status
}

// JobRepo is the persistence the queue needs. Implementations must make
// TransitionJob and CompleteJob atomic per job.
type JobRepo interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)

	// TransitionJob sets status to `to` only when the stored status is
	// one of `from`. It reports whether the row changed.
	TransitionJob(ctx context.Context, id string, from []Status, to Status, errMsg string) (bool, error)

	// CompleteJob inserts signals and marks the job COMPLETED in one
	// transaction, only if the job is not terminal yet.
	CompleteJob(ctx context.Context, id string, signals []discovery.Signal) (bool, error)

	CountJobs(ctx context.Context, sessionID string) (Counts, error)
	ListJobs(ctx context.Context, f Filter) ([]Job, error)

	// CreateRetryJob inserts job as the retry of oldID and links the two in
	// one transaction. oldID must be FAILED and not retried yet, otherwise
	// it fails with ErrNotRetryable and nothing is written.
	CreateRetryJob(ctx context.Context, oldID string, job *Job) error
	StaleJobs(ctx context.Context, updatedBefore string) ([]Job, error)
}
