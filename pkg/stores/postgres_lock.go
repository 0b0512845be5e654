package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfroyo/stackforge/pkg/lock"
)

var _ lock.Store = (*PostgresLockStore)(nil)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

const createLockTable = `
	CREATE TABLE IF NOT EXISTS stack_locks (
		stack_id   TEXT PRIMARY KEY,
		engine_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresLockStore keeps stack locks in a PostgreSQL table shared by all
// engines.
type PostgresLockStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLockStore connects to PostgreSQL and creates the lock table.
func NewPostgresLockStore(ctx context.Context, cfg PostgresConfig) (*PostgresLockStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresLockStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the lock table if it does not exist.
func (s *PostgresLockStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createLockTable); err != nil {
		return fmt.Errorf("failed to create stack_locks table: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresLockStore) Close() {
	s.pool.Close()
}

// CreateLock inserts the lock row of a stack, or reports its holder
func (s *PostgresLockStore) CreateLock(ctx context.Context, stackID, engineID string) (string, error) {
	query := `INSERT INTO stack_locks (stack_id, engine_id) VALUES ($1, $2) ON CONFLICT (stack_id) DO NOTHING`

	for attempt := 0; attempt < 3; attempt++ {
		tag, err := s.pool.Exec(ctx, query, stackID, engineID)
		if err != nil {
			return "", fmt.Errorf("failed to create stack lock: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return "", nil
		}

		holder, err := s.lockHolder(ctx, stackID)
		if errors.Is(err, lock.ErrLockNotFound) {
			continue
		}
		return holder, err
	}
	return "", fmt.Errorf("failed to create stack lock for %s: row keeps changing", stackID)
}

// StealLock moves a lock from oldEngineID to newEngineID
func (s *PostgresLockStore) StealLock(ctx context.Context, stackID, oldEngineID, newEngineID string) (string, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stack_locks SET engine_id = $1 WHERE stack_id = $2 AND engine_id = $3`,
		newEngineID, stackID, oldEngineID)
	if err != nil {
		return "", fmt.Errorf("failed to steal stack lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return "", nil
	}
	return s.lockHolder(ctx, stackID)
}

// ReleaseLock deletes the lock row if engineID holds it
func (s *PostgresLockStore) ReleaseLock(ctx context.Context, stackID, engineID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM stack_locks WHERE stack_id = $1 AND engine_id = $2`,
		stackID, engineID)
	if err != nil {
		return fmt.Errorf("failed to release stack lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lock.ErrLockNotFound
	}
	return nil
}

func (s *PostgresLockStore) lockHolder(ctx context.Context, stackID string) (string, error) {
	var holder string
	err := s.pool.QueryRow(ctx, `SELECT engine_id FROM stack_locks WHERE stack_id = $1`, stackID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", lock.ErrLockNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read stack lock: %w", err)
	}
	return holder, nil
}
