// Package sqlite provides a single-file SQLite store.ProgressRepository for
// hosts that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/content-progress-bridge/internal/store"
)

const schemaCheckpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	learner_id TEXT NOT NULL,
	content_id TEXT NOT NULL,
	content_version TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	state BLOB,
	ts INTEGER NOT NULL,
	PRIMARY KEY (learner_id, content_id)
);`

const schemaCompletions = `
CREATE TABLE IF NOT EXISTS completions (
	learner_id TEXT NOT NULL,
	content_id TEXT NOT NULL,
	content_version TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	completion INTEGER NOT NULL,
	success INTEGER NOT NULL,
	score_raw REAL NOT NULL,
	score_max REAL NOT NULL,
	total_time_ms INTEGER NOT NULL,
	detail BLOB,
	ts INTEGER NOT NULL,
	PRIMARY KEY (learner_id, content_id)
);`

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// ProgressStore persists checkpoints and completions in SQLite.
type ProgressStore struct {
	db *sql.DB
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for an ephemeral store.
func Open(path string, opts Options) (*ProgressStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A :memory: database is per connection.
	db.SetMaxOpenConns(1)

	busyTimeout := opts.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	for _, stmt := range append(pragmas, schemaCheckpoints, schemaCompletions) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &ProgressStore{db: db}, nil
}

// Close releases the database handle.
func (s *ProgressStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// SaveCheckpoint upserts cp when it is strictly newer than the stored row.
func (s *ProgressStore) SaveCheckpoint(ctx context.Context, cp store.Checkpoint) (bool, error) {
	if err := cp.Validate(); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints (learner_id, content_id, content_version, session_id, kind, location, state, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(learner_id, content_id) DO UPDATE SET
	content_version=excluded.content_version,
	session_id=excluded.session_id,
	kind=excluded.kind,
	location=excluded.location,
	state=excluded.state,
	ts=excluded.ts
WHERE excluded.ts > checkpoints.ts`,
		cp.LearnerID, cp.ContentID, cp.ContentVersion, cp.SessionID,
		string(cp.Kind), cp.Location, []byte(cp.State), cp.TS.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	return n > 0, nil
}

// LatestCheckpoint loads the stored checkpoint.
func (s *ProgressStore) LatestCheckpoint(ctx context.Context, learnerID, contentID string) (store.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT content_version, session_id, kind, location, state, ts
FROM checkpoints WHERE learner_id = ? AND content_id = ?`, learnerID, contentID)
	cp := store.Checkpoint{LearnerID: learnerID, ContentID: contentID}
	var (
		kind  string
		state []byte
		ts    int64
	)
	if err := row.Scan(&cp.ContentVersion, &cp.SessionID, &kind, &cp.Location, &state, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Checkpoint{}, store.ErrNotFound
		}
		return store.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.Kind = store.Kind(kind)
	cp.State = state
	cp.TS = time.Unix(0, ts).UTC()
	return cp, nil
}

// SaveCompletion upserts c unless the stored report is newer.
func (s *ProgressStore) SaveCompletion(ctx context.Context, c store.Completion) error {
	if c.LearnerID == "" || c.ContentID == "" {
		return fmt.Errorf("save completion: learner and content ids are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO completions (learner_id, content_id, content_version, session_id, completion, success,
	score_raw, score_max, total_time_ms, detail, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(learner_id, content_id) DO UPDATE SET
	content_version=excluded.content_version,
	session_id=excluded.session_id,
	completion=excluded.completion,
	success=excluded.success,
	score_raw=excluded.score_raw,
	score_max=excluded.score_max,
	total_time_ms=excluded.total_time_ms,
	detail=excluded.detail,
	ts=excluded.ts
WHERE excluded.ts >= completions.ts`,
		c.LearnerID, c.ContentID, c.ContentVersion, c.SessionID, c.Completion, c.Success,
		c.ScoreRaw, c.ScoreMax, c.TotalTimeMs, []byte(c.Detail), c.TS.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save completion: %w", err)
	}
	return nil
}

// LatestCompletion loads the stored completion.
func (s *ProgressStore) LatestCompletion(ctx context.Context, learnerID, contentID string) (store.Completion, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT content_version, session_id, completion, success, score_raw, score_max, total_time_ms, detail, ts
FROM completions WHERE learner_id = ? AND content_id = ?`, learnerID, contentID)
	c := store.Completion{LearnerID: learnerID, ContentID: contentID}
	var (
		detail []byte
		ts     int64
	)
	err := row.Scan(&c.ContentVersion, &c.SessionID, &c.Completion, &c.Success,
		&c.ScoreRaw, &c.ScoreMax, &c.TotalTimeMs, &detail, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Completion{}, store.ErrNotFound
		}
		return store.Completion{}, fmt.Errorf("load completion: %w", err)
	}
	c.Detail = detail
	c.TS = time.Unix(0, ts).UTC()
	return c, nil
}
