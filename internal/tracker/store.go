// Package tracker is the durable record of evaluations, per-agent
// executions and dimension scores, backed by SQLite.
//
// Every write is a single statement: execution rows are upserted with a
// status-rank predicate and evaluations are finalized with a conditional
// update, so concurrent writers never need an explicit lock.
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS evaluations (
	id                  TEXT PRIMARY KEY,
	brand_id            TEXT NOT NULL,
	brand_name          TEXT NOT NULL DEFAULT '',
	website_url         TEXT NOT NULL,
	tier                TEXT NOT NULL,
	status              TEXT NOT NULL,
	overall_score       REAL,
	grade               TEXT NOT NULL DEFAULT '',
	pillar_scores       TEXT NOT NULL DEFAULT '{}',
	strongest           TEXT NOT NULL DEFAULT '',
	weakest             TEXT NOT NULL DEFAULT '',
	biggest_opportunity TEXT NOT NULL DEFAULT '',
	reduced_reliability INTEGER NOT NULL DEFAULT 0,
	missing_agents      TEXT NOT NULL DEFAULT '[]',
	error               TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	completed_at        TEXT
);
CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(status);

CREATE TABLE IF NOT EXISTS agent_executions (
	evaluation_id     TEXT NOT NULL REFERENCES evaluations(id),
	agent_name        TEXT NOT NULL,
	status            TEXT NOT NULL,
	status_rank       INTEGER NOT NULL,
	result            TEXT,
	error             TEXT NOT NULL DEFAULT '',
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	job_id            TEXT NOT NULL DEFAULT '',
	degraded          INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	completed_at      TEXT,
	PRIMARY KEY (evaluation_id, agent_name)
);

CREATE TABLE IF NOT EXISTS dimension_scores (
	evaluation_id   TEXT NOT NULL REFERENCES evaluations(id),
	dimension       TEXT NOT NULL,
	score           REAL NOT NULL,
	confidence      REAL NOT NULL,
	explanation     TEXT NOT NULL DEFAULT '',
	recommendations TEXT NOT NULL DEFAULT '[]',
	source_agent    TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	PRIMARY KEY (evaluation_id, dimension)
);
`

// Store is the SQLite-backed tracker.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Open opens or creates the database at path with WAL journaling and a
// busy timeout, then applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create tracker dir: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; WAL still lets readers through the same handle.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply tracker schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close tracker db: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal column: %w", err)
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
