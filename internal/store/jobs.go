package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/extraction"
)

var _ extraction.JobRepo = (*Store)(nil)

// ─── Extraction jobs ─────────────────────────────────────────────────────────

const jobColumns = `id, session_id, phase, turn, text, status, signal_count, error,
	retry_of, retried_by, created_at, updated_at`

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, job *extraction.Job) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, job.SessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.SessionID, string(job.Phase), job.Turn, job.Text, string(job.Status), job.SignalCount,
			nullableString(job.Error), nullableString(job.RetryOf), nullableString(job.RetriedBy),
			job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting job %s: %w", job.ID, err)
		}
		return nil
	})
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*extraction.Job, error) {
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q queryRower, id string) (*extraction.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", discovery.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %q: %w", id, err)
	}
	return job, nil
}

func scanJob(scan func(dest ...any) error) (*extraction.Job, error) {
	var (
		j                          extraction.Job
		phase, status              string
		errMsg, retryOf, retriedBy sql.NullString
	)
	if err := scan(&j.ID, &j.SessionID, &phase, &j.Turn, &j.Text, &status, &j.SignalCount,
		&errMsg, &retryOf, &retriedBy, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Phase = discovery.Phase(phase)
	j.Status = extraction.Status(status)
	j.Error = derefString(errMsg)
	j.RetryOf = derefString(retryOf)
	j.RetriedBy = derefString(retriedBy)
	return &j, nil
}

// TransitionJob moves a job to `to` only if its status is one of `from`.
func (s *Store) TransitionJob(ctx context.Context, id string, from []extraction.Status, to extraction.Status, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition job %s: no source status given", id)
	}
	for _, f := range from {
		if !extraction.CanMove(f, to) {
			return false, fmt.Errorf("transition job %s: %s -> %s is not a forward move", id, f, to)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), nullableString(errMsg), discovery.Now(), id}
	for _, f := range from {
		args = append(args, string(f))
	}

	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = COALESCE(?, error), updated_at = ?
			  WHERE id = ? AND status IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("updating job %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Distinguish "no such job" from "already past this point".
			if _, err := getJob(ctx, tx, id); err != nil {
				return err
			}
			return nil
		}
		changed = true
		return nil
	})
	return changed, err
}

// CompleteJob inserts the job's signals and marks it COMPLETED in one
// transaction. A terminal job is left untouched and no signals are added.
func (s *Store) CompleteJob(ctx context.Context, id string, signals []discovery.Signal) (bool, error) {
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}

		for i := range signals {
			sig := &signals[i]
			if sig.SessionID != job.SessionID {
				return fmt.Errorf("%w: signal belongs to session %q, job %s to %q",
					discovery.ErrInvalidSignal, sig.SessionID, id, job.SessionID)
			}
			sig.JobID = id
			if err := insertSignal(ctx, tx, sig); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, signal_count = ?, updated_at = ? WHERE id = ?`,
			string(extraction.StatusCompleted), len(signals), discovery.Now(), id); err != nil {
			return fmt.Errorf("completing job %s: %w", id, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// CountJobs aggregates a session's jobs by status.
func (s *Store) CountJobs(ctx context.Context, sessionID string) (extraction.Counts, error) {
	var c extraction.Counts
	if err := ensureSession(ctx, s.db, sessionID); err != nil {
		return c, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status,
		        COUNT(*),
		        COALESCE(SUM(signal_count), 0),
		        COALESCE(SUM(CASE WHEN retried_by IS NULL THEN 1 ELSE 0 END), 0)
		   FROM jobs WHERE session_id = ? GROUP BY status`, sessionID)
	if err != nil {
		return c, fmt.Errorf("counting jobs of %q: %w", sessionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status                string
			n, signals, unretried int
		)
		if err := rows.Scan(&status, &n, &signals, &unretried); err != nil {
			return c, err
		}
		switch extraction.Status(status) {
		case extraction.StatusPending:
			c.Pending = n
		case extraction.StatusProcessing:
			c.Processing = n
		case extraction.StatusCompleted:
			c.Completed = n
			c.Signals = signals
		case extraction.StatusFailed:
			c.Failed = n
			c.FailedUnretried = unretried
		}
	}
	return c, rows.Err()
}

// ListJobs returns jobs matching the filter, oldest first.
func (s *Store) ListJobs(ctx context.Context, f extraction.Filter) ([]extraction.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		if err := ensureSession(ctx, s.db, f.SessionID); err != nil {
			return nil, err
		}
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(f.Statuses)), ", ")+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	return s.queryJobs(ctx, query, args...)
}

// CreateRetryJob inserts job as the retry of oldID and links both rows in
// one transaction, so concurrent retries of the same job cannot leave an
// unlinked PENDING row behind.
func (s *Store) CreateRetryJob(ctx context.Context, oldID string, job *extraction.Job) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := getJob(ctx, tx, oldID)
		if err != nil {
			return err
		}
		if old.Status != extraction.StatusFailed {
			return fmt.Errorf("%w: job %s is %s, only FAILED jobs can be requeued",
				extraction.ErrNotRetryable, oldID, old.Status)
		}
		if old.RetriedBy != "" {
			return fmt.Errorf("%w: job %s was already requeued as %s",
				extraction.ErrNotRetryable, oldID, old.RetriedBy)
		}

		job.RetryOf = oldID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.SessionID, string(job.Phase), job.Turn, job.Text, string(job.Status), job.SignalCount,
			nullableString(job.Error), nullableString(job.RetryOf), nullableString(job.RetriedBy),
			job.CreatedAt, job.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting retry job %s: %w", job.ID, err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET retried_by = ?, updated_at = ? WHERE id = ? AND retried_by IS NULL`,
			job.ID, discovery.Now(), oldID)
		if err != nil {
			return fmt.Errorf("linking retry of %s: %w", oldID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: job %s was already requeued", extraction.ErrNotRetryable, oldID)
		}
		return nil
	})
}

// StaleJobs lists PROCESSING jobs last updated before the given timestamp.
func (s *Store) StaleJobs(ctx context.Context, updatedBefore string) ([]extraction.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		string(extraction.StatusProcessing), updatedBefore)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]extraction.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []extraction.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
