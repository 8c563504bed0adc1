// Package history persists run and turn records in SQLite so finished
// runs stay inspectable after the process exits.
//
// The store implements engine.Recorder; the engine never imports sqlite
// directly. A nil store is valid at the call sites — recording is
// strictly observational and never affects run control flow.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgeworks/anvil/internal/engine"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// RunRecord is one persisted run.
type RunRecord struct {
	ID         string  `json:"id"`
	Target     string  `json:"target"`
	Status     string  `json:"status"`
	Phase      string  `json:"phase,omitempty"`
	Detail     string  `json:"detail,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// TurnRecord is one persisted engine turn.
type TurnRecord struct {
	RunID     string `json:"run_id"`
	Turn      int    `json:"turn"`
	Phase     string `json:"phase"`
	Tool      string `json:"tool,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Store is the run history backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database with
// WAL mode, and runs the schema migration. An empty path is an error:
// sqlite would silently open a private temporary database, so callers
// that want history disabled must not call Open at all.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: no database path configured")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			target      TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'running',
			phase       TEXT,
			detail      TEXT,
			started_at  TEXT NOT NULL,
			finished_at TEXT
		);

		CREATE TABLE IF NOT EXISTS turns (
			run_id     TEXT    NOT NULL,
			turn       INTEGER NOT NULL,
			phase      TEXT    NOT NULL,
			tool       TEXT,
			outcome    TEXT    NOT NULL,
			detail     TEXT,
			created_at TEXT    NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (run_id, turn),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_turns_run    ON turns(run_id, turn);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── engine.Recorder ─────────────────────────────────────────────────────────

// RunStarted registers a new run. Errors are swallowed: history is
// observational and must never fail a run.
func (s *Store) RunStarted(id, target string, startedAt time.Time) {
	_, _ = s.db.Exec(
		`INSERT OR IGNORE INTO runs (id, target, started_at) VALUES (?, ?, ?)`,
		id, target, startedAt.Format(time.RFC3339),
	)
}

// TurnRecorded appends one turn record.
func (s *Store) TurnRecorded(id string, turn int, phase engine.Phase, tool, outcome, detail string) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO turns (run_id, turn, phase, tool, outcome, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		id, turn, string(phase), tool, outcome, detail,
	)
}

// RunFinished marks a run terminal with its final phase and detail.
func (s *Store) RunFinished(id, status string, phase engine.Phase, detail string) {
	_, _ = s.db.Exec(
		`UPDATE runs SET status = ?, phase = ?, detail = ?, finished_at = datetime('now') WHERE id = ?`,
		status, string(phase), detail, id,
	)
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// GetRun retrieves one run by ID.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, target, status, ifnull(phase, ''), ifnull(detail, ''), started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	)
	var r RunRecord
	if err := row.Scan(&r.ID, &r.Target, &r.Status, &r.Phase, &r.Detail, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, fmt.Errorf("history: run %s: %w", id, err)
	}
	return &r, nil
}

// RecentRuns returns the most recently started runs.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, target, status, ifnull(phase, ''), ifnull(detail, ''), started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Target, &r.Status, &r.Phase, &r.Detail, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Turns returns the full turn log of a run in order.
func (s *Store) Turns(runID string) ([]TurnRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, turn, phase, ifnull(tool, ''), outcome, ifnull(detail, ''), created_at
		 FROM turns WHERE run_id = ? ORDER BY turn`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: turns for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.RunID, &t.Turn, &t.Phase, &t.Tool, &t.Outcome, &t.Detail, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
