package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the repositories can be exercised with
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL implementation of the engine's repository
// interfaces, split into per-aggregate repositories sharing one pool.
type Store struct {
	pool DBPool
	log  *zap.Logger

	tasks   *TaskStore
	actions *ActionStore
	memory  *MemoryStore
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := logger.Named("store")
	return &Store{
		pool:    pool,
		log:     log,
		tasks:   &TaskStore{pool: pool, log: log.Named("tasks")},
		actions: &ActionStore{pool: pool, log: log.Named("actions")},
		memory:  &MemoryStore{pool: pool, log: log.Named("memory")},
	}, nil
}

// Tasks returns the Task aggregate repository.
func (s *Store) Tasks() *TaskStore { return s.tasks }

// Actions returns the append-only step log repository.
func (s *Store) Actions() *ActionStore { return s.actions }

// Memory returns the memory-entry repository.
func (s *Store) Memory() *MemoryStore { return s.memory }

// schemaDDL creates every table the engine needs. It is idempotent.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
    tenant_id           TEXT NOT NULL,
    task_id             TEXT NOT NULL,
    user_id             TEXT NOT NULL,
    session_id          TEXT NOT NULL,
    goal                TEXT NOT NULL DEFAULT '',
    target_url          TEXT NOT NULL DEFAULT '',
    domain              TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL,
    current_step_index  INT  NOT NULL DEFAULT 0,
    memory              JSONB NOT NULL DEFAULT '{}',
    blocker_context     JSONB,
    paused_at           TIMESTAMPTZ,
    user_resolution     JSONB,
    last_failure_reason TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, task_id)
);

CREATE TABLE IF NOT EXISTS task_actions (
    tenant_id        TEXT NOT NULL,
    task_id          TEXT NOT NULL,
    step_index       INT  NOT NULL,
    thought          TEXT NOT NULL DEFAULT '',
    action           JSONB NOT NULL,
    expected_outcome JSONB NOT NULL,
    dom_snapshot     TEXT NOT NULL DEFAULT '',
    metrics          JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, task_id, step_index)
);

CREATE TABLE IF NOT EXISTS memory_entries (
    scope      TEXT NOT NULL,
    owner_id   TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      JSONB,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (scope, owner_id, key)
);

CREATE TABLE IF NOT EXISTS skills (
    id                 UUID PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    domain             TEXT NOT NULL,
    goal               TEXT NOT NULL,
    goal_normalized    TEXT NOT NULL,
    failed_action      TEXT NOT NULL,
    failed_element     TEXT NOT NULL DEFAULT '',
    failed_error_class TEXT NOT NULL DEFAULT '',
    success_action     TEXT NOT NULL DEFAULT '',
    success_element    TEXT NOT NULL DEFAULT '',
    strategy           TEXT NOT NULL DEFAULT 'other',
    success_count      INT  NOT NULL DEFAULT 0,
    failure_count      INT  NOT NULL DEFAULT 0,
    success_rate       DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    last_used_at       TIMESTAMPTZ NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    UNIQUE (tenant_id, domain, goal_normalized, failed_action)
);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
