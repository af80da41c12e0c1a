// Package mirror is the optional external-table telemetry sink: a
// local SQLite database standing in for a hosted Postgres-style mirror
// (e.g. Supabase), so attempts/sessions land in a queryable relational
// store in addition to the NDJSON event log. Uses a plain
// schema-migration-list + ON CONFLICT upsert idiom.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/studyengine/core/internal/domain"
)

// Store is a SQLite-backed mirror of the attempt/session telemetry
// stream. A failed mirror write never blocks or fails the ingest
// request it shadows — see Store.InsertAttempt's caller in
// internal/ingest.
type Store struct {
	db *sql.DB
}

// Open connects to (and migrates) the mirror database at dsn — a
// filesystem path for modernc.org/sqlite, e.g. "data/mirror.db".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: open %s: %w", dsn, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range migrations() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("mirror: migrate: %w", err)
		}
	}
	return nil
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			session_id   TEXT NOT NULL,
			item_id      TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			lo_ids       TEXT NOT NULL,
			mode         TEXT NOT NULL,
			choice       TEXT NOT NULL,
			correct      INTEGER NOT NULL,
			duration_ms  INTEGER NOT NULL,
			ts_submit    INTEGER NOT NULL,
			ingested_at  TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (session_id, item_id, ts_submit)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_user ON attempts(user_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id    TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			mode          TEXT NOT NULL,
			blueprint_id  TEXT,
			start_ts      INTEGER NOT NULL,
			end_ts        INTEGER,
			completed     INTEGER NOT NULL DEFAULT 0,
			ingested_at   TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			started_at     TEXT NOT NULL,
			finished_at    TEXT,
			status         TEXT NOT NULL,
			items_scanned  INTEGER NOT NULL DEFAULT 0,
			notes          TEXT
		)`,
	}
}

// InsertAttempt upserts one attempt row.
func (s *Store) InsertAttempt(ctx context.Context, e domain.AttemptEvent) error {
	correct := 0
	if e.Correct {
		correct = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (session_id, item_id, user_id, lo_ids, mode, choice, correct, duration_ms, ts_submit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, item_id, ts_submit) DO UPDATE SET
			correct     = excluded.correct,
			duration_ms = excluded.duration_ms
	`, e.SessionID, e.ItemID, e.UserID, joinCSV(e.LOIds), string(e.Mode), string(e.Choice), correct, e.DurationMs, e.TsSubmit)
	if err != nil {
		return domain.ErrMirrorUnavailable
	}
	return nil
}

// InsertSession upserts one session row.
func (s *Store) InsertSession(ctx context.Context, e domain.SessionEvent) error {
	completed := 0
	if e.Completed != nil && *e.Completed {
		completed = 1
	}
	var endTs interface{}
	if e.EndTs != nil {
		endTs = *e.EndTs
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, mode, blueprint_id, start_ts, end_ts, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			end_ts    = excluded.end_ts,
			completed = excluded.completed
	`, e.SessionID, e.UserID, string(e.Mode), e.BlueprintID, e.StartTs, endTs, completed)
	if err != nil {
		return domain.ErrMirrorUnavailable
	}
	return nil
}

// InsertJob upserts one weekly re-fit job record. The re-fit
// computation itself is a placeholder (see cli's jobs:refit command);
// this records that a run happened and its outcome.
func (s *Store) InsertJob(ctx context.Context, j domain.JobRecord) error {
	var finishedAt interface{}
	if j.FinishedAt != nil {
		finishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, started_at, finished_at, status, items_scanned, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at   = excluded.finished_at,
			status        = excluded.status,
			items_scanned = excluded.items_scanned,
			notes         = excluded.notes
	`, j.ID, j.StartedAt.UTC().Format(time.RFC3339), finishedAt, j.Status, j.ItemsScanned, j.Notes)
	if err != nil {
		return domain.ErrMirrorUnavailable
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for callers that need to run
// ad-hoc queries (operator tooling, tests) beyond Store's own methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

var _ domain.Mirror = (*Store)(nil)

func joinCSV(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
