package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// ─── Signals ─────────────────────────────────────────────────────────────────

// AddSignal persists a validated signal recorded synchronously (outside an
// extraction job) and sets its ID and CreatedAt.
func (s *Store) AddSignal(ctx context.Context, sig *discovery.Signal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, sig.SessionID); err != nil {
			return err
		}
		return insertSignal(ctx, tx, sig)
	})
}

func insertSignal(ctx context.Context, tx *sql.Tx, sig *discovery.Signal) error {
	var related any
	if len(sig.RelatedIDs) > 0 {
		enc, err := marshalJSON(sig.RelatedIDs)
		if err != nil {
			return fmt.Errorf("encoding related ids: %w", err)
		}
		related = enc
	}
	if sig.CreatedAt == "" {
		sig.CreatedAt = discovery.Now()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO signals (session_id, job_id, turn, domain, type, content, source, confidence,
		                      state, emotional_context, life_domain, scenario_id, related_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.SessionID, nullableString(sig.JobID), sig.Turn, string(sig.Domain), sig.Type, sig.Content,
		sig.Source, sig.Confidence, nullableString(string(sig.State)),
		nullableString(string(sig.EmotionalContext)), nullableString(string(sig.LifeDomain)),
		nullableString(sig.ScenarioID), related, sig.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %q", discovery.ErrSessionNotFound, sig.SessionID)
		}
		return fmt.Errorf("inserting signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("signal id: %w", err)
	}
	sig.ID = id
	return nil
}

// ListSignals returns a session's signals in insertion order.
func (s *Store) ListSignals(ctx context.Context, sessionID string) ([]discovery.Signal, error) {
	if err := ensureSession(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, job_id, turn, domain, type, content, source, confidence,
		        state, emotional_context, life_domain, scenario_id, related_ids, created_at
		   FROM signals WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing signals of %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []discovery.Signal
	for rows.Next() {
		var (
			sig                                    discovery.Signal
			jobID, state, emotion, life, scen, rel sql.NullString
			domain                                 string
		)
		if err := rows.Scan(&sig.ID, &sig.SessionID, &jobID, &sig.Turn, &domain, &sig.Type, &sig.Content,
			&sig.Source, &sig.Confidence, &state, &emotion, &life, &scen, &rel, &sig.CreatedAt); err != nil {
			return nil, err
		}
		sig.Domain = discovery.Domain(domain)
		sig.JobID = derefString(jobID)
		sig.State = discovery.SignalState(derefString(state))
		sig.EmotionalContext = discovery.EmotionalContext(derefString(emotion))
		sig.LifeDomain = discovery.LifeDomain(derefString(life))
		sig.ScenarioID = derefString(scen)
		if rel.Valid && rel.String != "" {
			if err := json.Unmarshal([]byte(rel.String), &sig.RelatedIDs); err != nil {
				return nil, fmt.Errorf("decoding related ids of signal %d: %w", sig.ID, err)
			}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ─── Artifacts ───────────────────────────────────────────────────────────────

// SaveArtifact stores a session's terminal output of the given kind,
// replacing any earlier version.
func (s *Store) SaveArtifact(ctx context.Context, sessionID, kind, body string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureSession(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (session_id, kind, body, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (session_id, kind) DO UPDATE SET body = excluded.body, created_at = excluded.created_at`,
			sessionID, kind, body, discovery.Now())
		if err != nil {
			return fmt.Errorf("saving %s artifact for %q: %w", kind, sessionID, err)
		}
		return nil
	})
}

// GetArtifact returns the stored artifact body, or "" if none exists.
func (s *Store) GetArtifact(ctx context.Context, sessionID, kind string) (string, error) {
	if err := ensureSession(ctx, s.db, sessionID); err != nil {
		return "", err
	}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM artifacts WHERE session_id = ? AND kind = ?`, sessionID, kind).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s artifact for %q: %w", kind, sessionID, err)
	}
	return body, nil
}
