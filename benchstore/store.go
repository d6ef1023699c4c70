// Package benchstore persists box-counting benchmark runs in SQLite.
package benchstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS bench_runs (
	run_id        TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	backend       TEXT NOT NULL,
	dim           INTEGER NOT NULL,
	edge          INTEGER NOT NULL,
	group_size    INTEGER NOT NULL,
	ones_percent  INTEGER NOT NULL,
	seed          INTEGER NOT NULL,
	fingerprint   TEXT NOT NULL,
	repetitions   INTEGER NOT NULL,
	mean_seconds  REAL NOT NULL,
	std_seconds   REAL NOT NULL,
	counts_json   TEXT NOT NULL,
	matches_cpu   INTEGER NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bench_runs_session ON bench_runs(session_id);
`

// Run is one backend's timing over repeated reductions of the same grid.
type Run struct {
	RunID       string   `json:"run_id"`
	SessionID   string   `json:"session_id"`
	Backend     string   `json:"backend"`
	Dim         int      `json:"dim"`
	Edge        int      `json:"edge"`
	GroupSize   int      `json:"group_size"`
	OnesPercent int      `json:"ones_percent"`
	Seed        uint64   `json:"seed"`
	Fingerprint string   `json:"fingerprint"`
	Repetitions int      `json:"repetitions"`
	MeanSeconds float64  `json:"mean_seconds"`
	StdSeconds  float64  `json:"std_seconds"`
	Counts      []uint32 `json:"counts"`
	MatchesCPU  bool     `json:"matches_cpu"`
	CreatedAt   int64    `json:"created_at"`
}

// Store wraps the benchmark database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Insert persists run. Missing ids are generated and CreatedAt defaults to now.
func (s *Store) Insert(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bench_runs (
			run_id, session_id, backend, dim, edge, group_size, ones_percent, seed,
			fingerprint, repetitions, mean_seconds, std_seconds, counts_json,
			matches_cpu, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SessionID, run.Backend, run.Dim, run.Edge, run.GroupSize, run.OnesPercent,
		int64(run.Seed), run.Fingerprint, run.Repetitions, run.MeanSeconds, run.StdSeconds,
		string(counts), run.MatchesCPU, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

// ListSession returns the runs of one session in insertion order.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, session_id, backend, dim, edge, group_size, ones_percent, seed,
			fingerprint, repetitions, mean_seconds, std_seconds, counts_json,
			matches_cpu, created_at
		FROM bench_runs WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var (
			r      Run
			seed   int64
			counts string
		)
		if err := rows.Scan(&r.RunID, &r.SessionID, &r.Backend, &r.Dim, &r.Edge, &r.GroupSize,
			&r.OnesPercent, &seed, &r.Fingerprint, &r.Repetitions, &r.MeanSeconds, &r.StdSeconds,
			&counts, &r.MatchesCPU, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Seed = uint64(seed)
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, fmt.Errorf("run %s counts: %w", r.RunID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
