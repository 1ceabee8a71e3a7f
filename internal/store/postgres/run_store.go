// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lensfeed/focus-collector/internal/focus"
)

const uniqueViolation = "23505"

// PoolConfig controls the shared Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the stores use, kept narrow so pgxmock
// can stand in during tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool connects a pgx pool from the config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RunStore implements focus.RunStore over Postgres. The lifecycle invariants
// are enforced in SQL predicates so concurrent workers race safely: the
// conditional UPDATEs are the compare-and-swap.
type RunStore struct {
	pool Pool
	now  func() time.Time
}

// NewRunStore constructs a RunStore over an existing pool.
func NewRunStore(pool Pool, clock focus.Clock) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &RunStore{pool: pool, now: now}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts a new PENDING run at progress 0.
func (s *RunStore) CreateRun(ctx context.Context, run focus.QueryRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO query_runs (id, query_id, status, progress, created_at)
VALUES ($1, $2, 'pending', 0, $3)`,
		run.ID, run.QueryID, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("run %s: %w", run.ID, focus.ErrConflict)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (focus.QueryRun, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, query_id, status, progress, COALESCE(error, ''), created_at, finished_at
FROM query_runs
WHERE id = $1`,
		runID,
	)
	var run focus.QueryRun
	err := row.Scan(&run.ID, &run.QueryID, &run.Status, &run.Progress, &run.Error, &run.CreatedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return focus.QueryRun{}, focus.ErrNotFound
	}
	if err != nil {
		return focus.QueryRun{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// MarkRunning transitions PENDING -> RUNNING exactly once.
func (s *RunStore) MarkRunning(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE query_runs
SET status = 'running'
WHERE id = $1 AND status = 'pending'`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyMiss(ctx, runID, focus.ErrConflict)
}

// SetProgress records progress for an active run; writes below the current
// value are ignored by the predicate.
func (s *RunStore) SetProgress(ctx context.Context, runID string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE query_runs
SET progress = $2
WHERE id = $1 AND status NOT IN ('completed', 'failed') AND progress < $2`,
		runID, progress,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Either the run is gone, terminal, or the value was not an increase.
	return s.classifyMiss(ctx, runID, nil)
}

// Finish moves the run to a terminal status and stamps finishedAt. A
// completed run always reads progress 100.
func (s *RunStore) Finish(ctx context.Context, runID string, status focus.RunStatus, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE query_runs
SET status = $2,
    error = NULLIF($3, ''),
    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
    finished_at = $4
WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		runID, string(status), errText, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.classifyMiss(ctx, runID, focus.ErrTerminal)
}

// classifyMiss turns a zero-row conditional update into the sentinel the
// caller expects: ErrNotFound when the run is gone, ErrTerminal when it
// already finished, otherwise the provided fallback (nil meaning the miss is
// benign).
func (s *RunStore) classifyMiss(ctx context.Context, runID string, fallback error) error {
	row := s.pool.QueryRow(ctx, `SELECT status FROM query_runs WHERE id = $1`, runID)
	var status focus.RunStatus
	err := row.Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return focus.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select run status: %w", err)
	}
	if status.Terminal() {
		return focus.ErrTerminal
	}
	return fallback
}

// ListRuns returns runs filtered by optional status, newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *focus.RunStatus, limit, offset int) ([]focus.QueryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	sql := `
SELECT id, query_id, status, progress, COALESCE(error, ''), created_at, finished_at
FROM query_runs`
	args := []any{}
	if status != nil {
		sql += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []focus.QueryRun
	for rows.Next() {
		var run focus.QueryRun
		if err := rows.Scan(&run.ID, &run.QueryID, &run.Status, &run.Progress, &run.Error, &run.CreatedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
