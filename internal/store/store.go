// Package store persists discovery sessions in SQLite.
//
// One Store implements every repository the core needs: sessions and
// their turns, signals, extraction jobs and final artifacts. Writes that
// must be atomic (phase compare-and-set, job completion with its signals)
// run in a single transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/mirror/internal/discovery"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// commitTx is a package-level var so tests can simulate commit failures.
var commitTx = func(tx *sql.Tx) error { return tx.Commit() }

// Config holds the store location.
type Config struct {
	DataDir  string
	FileName string
}

// DefaultConfig returns the default configuration for the store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:  filepath.Join(home, ".mirror"),
		FileName: "mirror.db",
	}
}

// Path returns the database file path.
func (c Config) Path() string {
	name := c.FileName
	if name == "" {
		name = "mirror.db"
	}
	return filepath.Join(c.DataDir, name)
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQLite-backed repository for discovery sessions.
type Store struct {
	db  *sql.DB
	cfg Config

	// writeMu serializes write transactions within the process; SQLite
	// allows a single writer and busy_timeout covers other processes.
	writeMu sync.Mutex
}

// New opens (creating if needed) the database and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + cfg.Path() +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"

	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id                 TEXT PRIMARY KEY,
			phase              TEXT    NOT NULL,
			total_turns        INTEGER NOT NULL DEFAULT 0,
			turns_in_phase     INTEGER NOT NULL DEFAULT 0,
			scenarios_explored INTEGER NOT NULL DEFAULT 0,
			asked_questions    TEXT    NOT NULL DEFAULT '[]',
			closed             INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT    NOT NULL,
			updated_at         TEXT    NOT NULL,
			phase_changed_at   TEXT    NOT NULL,
			pending_advance    TEXT    NOT NULL DEFAULT '',
			pending_reason     TEXT    NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS turns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT    NOT NULL REFERENCES sessions(id),
			seq        INTEGER NOT NULL,
			role       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			created_at TEXT    NOT NULL,
			UNIQUE (session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			session_id   TEXT    NOT NULL REFERENCES sessions(id),
			phase        TEXT    NOT NULL,
			turn         INTEGER NOT NULL,
			text         TEXT    NOT NULL,
			status       TEXT    NOT NULL,
			signal_count INTEGER NOT NULL DEFAULT 0,
			error        TEXT,
			retry_of     TEXT,
			retried_by   TEXT,
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS signals (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT    NOT NULL REFERENCES sessions(id),
			job_id            TEXT,
			turn              INTEGER NOT NULL,
			domain            TEXT    NOT NULL,
			type              TEXT    NOT NULL,
			content           TEXT    NOT NULL,
			source            TEXT    NOT NULL DEFAULT '',
			confidence        REAL    NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			state             TEXT,
			emotional_context TEXT,
			life_domain       TEXT,
			scenario_id       TEXT,
			related_ids       TEXT,
			created_at        TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			kind       TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session   ON turns(session_id, seq);
		CREATE INDEX IF NOT EXISTS idx_jobs_session    ON jobs(session_id, status);
		CREATE INDEX IF NOT EXISTS idx_jobs_status     ON jobs(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_signals_session ON signals(session_id, turn);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release; CREATE TABLE IF NOT EXISTS
	// leaves older databases without them.
	for _, col := range []struct{ table, name, decl string }{
		{"sessions", "pending_advance", "TEXT NOT NULL DEFAULT ''"},
		{"sessions", "pending_reason", "TEXT NOT NULL DEFAULT ''"},
	} {
		if err := s.addColumn(col.table, col.name, col.decl); err != nil {
			return err
		}
	}
	return nil
}

// addColumn adds table.name unless it already exists.
func (s *Store) addColumn(table, name, decl string) error {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, name,
	).Scan(&n); err != nil {
		return fmt.Errorf("inspecting %s.%s: %w", table, name, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + name + ` ` + decl); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, name, err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a write transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := commitTx(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ensureSession fails with ErrSessionNotFound for unknown ids.
func ensureSession(ctx context.Context, q queryRower, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", discovery.ErrSessionNotFound, id)
	}
	return err
}

// nullableString converts empty strings to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isForeignKeyViolation checks if an error is a SQLite FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
