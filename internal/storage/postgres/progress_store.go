// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/content-progress-bridge/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultCheckpointTable = "progress_checkpoints"
	DefaultCompletionTable = "progress_completions"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	CheckpointTable string
	CompletionTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool        pool
	checkpoints string
	completions string
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore connects to Postgres using cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewProgressStoreWithPool(p, cfg.CheckpointTable, cfg.CompletionTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(p pool, checkpointTable, completionTable string) (*ProgressStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if checkpointTable == "" {
		checkpointTable = DefaultCheckpointTable
	}
	if completionTable == "" {
		completionTable = DefaultCompletionTable
	}
	for _, table := range []string{checkpointTable, completionTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &ProgressStore{pool: p, checkpoints: checkpointTable, completions: completionTable}, nil
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *ProgressStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// SaveCheckpoint upserts cp when it is strictly newer than the stored row.
func (s *ProgressStore) SaveCheckpoint(ctx context.Context, cp store.Checkpoint) (bool, error) {
	if err := cp.Validate(); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (learner_id, content_id, content_version, session_id, kind, location, state, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (learner_id, content_id) DO UPDATE
SET content_version = EXCLUDED.content_version,
	session_id = EXCLUDED.session_id,
	kind = EXCLUDED.kind,
	location = EXCLUDED.location,
	state = EXCLUDED.state,
	ts = EXCLUDED.ts
WHERE EXCLUDED.ts > %[1]s.ts`, s.checkpoints)
	tag, err := s.pool.Exec(ctx, query,
		cp.LearnerID, cp.ContentID, cp.ContentVersion, cp.SessionID,
		string(cp.Kind), cp.Location, []byte(cp.State), cp.TS.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LatestCheckpoint loads the stored checkpoint.
func (s *ProgressStore) LatestCheckpoint(ctx context.Context, learnerID, contentID string) (store.Checkpoint, error) {
	query := fmt.Sprintf(`
SELECT content_version, session_id, kind, location, state, ts
FROM %s WHERE learner_id = $1 AND content_id = $2`, s.checkpoints)
	cp := store.Checkpoint{LearnerID: learnerID, ContentID: contentID}
	var (
		kind  string
		state []byte
	)
	err := s.pool.QueryRow(ctx, query, learnerID, contentID).
		Scan(&cp.ContentVersion, &cp.SessionID, &kind, &cp.Location, &state, &cp.TS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Checkpoint{}, store.ErrNotFound
		}
		return store.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.Kind = store.Kind(kind)
	cp.State = state
	return cp, nil
}

// SaveCompletion upserts c unless the stored report is newer.
func (s *ProgressStore) SaveCompletion(ctx context.Context, c store.Completion) error {
	if c.LearnerID == "" || c.ContentID == "" {
		return fmt.Errorf("save completion: learner and content ids are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (learner_id, content_id, content_version, session_id, completion, success,
	score_raw, score_max, total_time_ms, detail, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (learner_id, content_id) DO UPDATE
SET content_version = EXCLUDED.content_version,
	session_id = EXCLUDED.session_id,
	completion = EXCLUDED.completion,
	success = EXCLUDED.success,
	score_raw = EXCLUDED.score_raw,
	score_max = EXCLUDED.score_max,
	total_time_ms = EXCLUDED.total_time_ms,
	detail = EXCLUDED.detail,
	ts = EXCLUDED.ts
WHERE EXCLUDED.ts >= %[1]s.ts`, s.completions)
	_, err := s.pool.Exec(ctx, query,
		c.LearnerID, c.ContentID, c.ContentVersion, c.SessionID, c.Completion, c.Success,
		c.ScoreRaw, c.ScoreMax, c.TotalTimeMs, []byte(c.Detail), c.TS.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save completion: %w", err)
	}
	return nil
}

// LatestCompletion loads the stored completion.
func (s *ProgressStore) LatestCompletion(ctx context.Context, learnerID, contentID string) (store.Completion, error) {
	query := fmt.Sprintf(`
SELECT content_version, session_id, completion, success, score_raw, score_max, total_time_ms, detail, ts
FROM %s WHERE learner_id = $1 AND content_id = $2`, s.completions)
	c := store.Completion{LearnerID: learnerID, ContentID: contentID}
	var detail []byte
	err := s.pool.QueryRow(ctx, query, learnerID, contentID).Scan(
		&c.ContentVersion, &c.SessionID, &c.Completion, &c.Success,
		&c.ScoreRaw, &c.ScoreMax, &c.TotalTimeMs, &detail, &c.TS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Completion{}, store.ErrNotFound
		}
		return store.Completion{}, fmt.Errorf("load completion: %w", err)
	}
	c.Detail = detail
	return c, nil
}
