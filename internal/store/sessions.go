package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// ─── Sessions ────────────────────────────────────────────────────────────────

const sessionColumns = `id, phase, total_turns, turns_in_phase, scenarios_explored,
	asked_questions, closed, created_at, updated_at, phase_changed_at,
	pending_advance, pending_reason`

// CreateSession inserts a new session. Zero timestamps and phase are
// filled in.
func (s *Store) CreateSession(ctx context.Context, sess *discovery.Session) error {
	now := discovery.Now()
	if sess.Phase == "" {
		sess.Phase = discovery.PhaseScenario
	}
	if sess.CreatedAt == "" {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.PhaseChangedAt == "" {
		sess.PhaseChangedAt = now
	}
	asked, err := marshalJSON(nonNilStrings(sess.AskedQuestions))
	if err != nil {
		return fmt.Errorf("encoding asked questions: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, string(sess.Phase), sess.TotalTurns, sess.TurnsInPhase, sess.ScenariosExplored,
			asked, boolToInt(sess.Closed), sess.CreatedAt, sess.UpdatedAt, sess.PhaseChangedAt,
			string(sess.PendingAdvance), sess.PendingReason,
		)
		if err != nil {
			return fmt.Errorf("inserting session %q: %w", sess.ID, err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*discovery.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q queryRower, id string) (*discovery.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	var (
		sess    discovery.Session
		phase   string
		asked   string
		closed  int
		pending string
	)
	err := row.Scan(&sess.ID, &phase, &sess.TotalTurns, &sess.TurnsInPhase, &sess.ScenariosExplored,
		&asked, &closed, &sess.CreatedAt, &sess.UpdatedAt, &sess.PhaseChangedAt,
		&pending, &sess.PendingReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", discovery.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %q: %w", id, err)
	}
	sess.Phase = discovery.Phase(phase)
	sess.PendingAdvance = discovery.Phase(pending)
	sess.Closed = closed != 0
	if err := json.Unmarshal([]byte(asked), &sess.AskedQuestions); err != nil {
		return nil, fmt.Errorf("decoding asked questions of %q: %w", id, err)
	}
	return &sess, nil
}

// RecordUserTurn appends a user turn and increments both turn counters
// in one transaction. It returns the updated session and the turn.
func (s *Store) RecordUserTurn(ctx context.Context, id, content string) (*discovery.Session, *discovery.Turn, error) {
	var (
		sess *discovery.Session
		turn *discovery.Turn
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, id); err != nil {
			return err
		}
		now := discovery.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions
			    SET total_turns = total_turns + 1,
			        turns_in_phase = turns_in_phase + 1,
			        updated_at = ?
			  WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("incrementing turns of %q: %w", id, err)
		}
		var err error
		if turn, err = appendTurn(ctx, tx, id, discovery.RoleUser, content); err != nil {
			return err
		}
		sess, err = getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, turn, nil
}

// AppendTurn records an assistant (or any non-counting) turn.
func (s *Store) AppendTurn(ctx context.Context, id string, role discovery.Role, content string) (*discovery.Turn, error) {
	var turn *discovery.Turn
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, id); err != nil {
			return err
		}
		var err error
		turn, err = appendTurn(ctx, tx, id, role, content)
		return err
	})
	return turn, err
}

func appendTurn(ctx context.Context, tx *sql.Tx, id string, role discovery.Role, content string) (*discovery.Turn, error) {
	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, id,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next turn seq for %q: %w", id, err)
	}

	t := &discovery.Turn{SessionID: id, Seq: seq, Role: role, Content: content, CreatedAt: discovery.Now()}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.SessionID, t.Seq, string(t.Role), t.Content, t.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting turn for %q: %w", id, err)
	}
	return t, nil
}

// ListTurns returns every turn of a session in order.
func (s *Store) ListTurns(ctx context.Context, id string) ([]discovery.Turn, error) {
	if err := ensureSession(ctx, s.db, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("listing turns of %q: %w", id, err)
	}
	defer rows.Close()

	var turns []discovery.Turn
	for rows.Next() {
		var (
			t    discovery.Turn
			role string
		)
		if err := rows.Scan(&t.SessionID, &t.Seq, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = discovery.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// IncrementScenarios bumps the scenario-exploration counter.
func (s *Store) IncrementScenarios(ctx context.Context, id string) (*discovery.Session, error) {
	return s.patchSession(ctx, id,
		`UPDATE sessions SET scenarios_explored = scenarios_explored + 1, updated_at = ? WHERE id = ?`)
}

// CloseSession marks a session as logically closed.
func (s *Store) CloseSession(ctx context.Context, id string) (*discovery.Session, error) {
	return s.patchSession(ctx, id, `UPDATE sessions SET closed = 1, updated_at = ? WHERE id = ?`)
}

// patchSession runs a single-row UPDATE taking (updated_at, id) and
// returns the session as stored afterwards.
func (s *Store) patchSession(ctx context.Context, id, query string) (*discovery.Session, error) {
	var sess *discovery.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, discovery.Now(), id)
		if err != nil {
			return fmt.Errorf("updating session %q: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %q", discovery.ErrSessionNotFound, id)
		}
		sess, err = getSession(ctx, tx, id)
		return err
	})
	return sess, err
}

// MarkQuestionAsked records that a required question was put to the user.
// Marking the same question twice is a no-op.
func (s *Store) MarkQuestionAsked(ctx context.Context, id, questionID string) (*discovery.Session, error) {
	var sess *discovery.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.HasAsked(questionID) {
			sess = current
			return nil
		}
		asked, err := marshalJSON(append(current.AskedQuestions, questionID))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET asked_questions = ?, updated_at = ? WHERE id = ?`,
			asked, discovery.Now(), id); err != nil {
			return fmt.Errorf("marking question %q on %q: %w", questionID, id, err)
		}
		sess, err = getSession(ctx, tx, id)
		return err
	})
	return sess, err
}

// SetPendingAdvance records a forced move to `to` that is waiting on its
// guards. It only applies while the session is still open and in `from`;
// otherwise the session is returned unchanged.
func (s *Store) SetPendingAdvance(ctx context.Context, id string, from, to discovery.Phase, reason string) (*discovery.Session, error) {
	var sess *discovery.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET pending_advance = ?, pending_reason = ?, updated_at = ?
			  WHERE id = ? AND phase = ? AND closed = 0`,
			string(to), reason, discovery.Now(), id, string(from)); err != nil {
			return fmt.Errorf("recording pending advance on %q: %w", id, err)
		}
		var err error
		sess, err = getSession(ctx, tx, id)
		return err
	})
	return sess, err
}

// TransitionPhase moves a session from one phase to another as a
// compare-and-set. It resets turns_in_phase, clears any pending advance
// and stamps phase_changed_at.
// If the stored phase is no longer `from`, it fails with ErrPhaseConflict.
func (s *Store) TransitionPhase(ctx context.Context, id string, from, to discovery.Phase) (*discovery.Session, error) {
	var sess *discovery.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := discovery.Now()
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions
			    SET phase = ?, turns_in_phase = 0, phase_changed_at = ?, updated_at = ?,
			        pending_advance = '', pending_reason = ''
			  WHERE id = ? AND phase = ? AND closed = 0`,
			string(to), now, now, id, string(from))
		if err != nil {
			return fmt.Errorf("transitioning %q: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			current, err := getSession(ctx, tx, id)
			if err != nil {
				return err
			}
			if current.Closed {
				return fmt.Errorf("%w: %q", discovery.ErrSessionClosed, id)
			}
			return fmt.Errorf("%w: %q is in %s, expected %s", discovery.ErrPhaseConflict, id, current.Phase, from)
		}
		sess, err = getSession(ctx, tx, id)
		return err
	})
	return sess, err
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
