package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/stackforge/pkg/engine"
	"github.com/openfroyo/stackforge/pkg/lock"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ engine.Repository = (*SQLiteStore)(nil)
	_ lock.Store        = (*SQLiteStore)(nil)
)

// SQLiteStore implements engine.Repository and lock.Store using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", s.cfg.Path)
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const stackColumns = `id, name, template, parameters, action, status, status_reason,
	timeout_seconds, disable_rollback, created_at, updated_at`

// CreateStack inserts a new stack row
func (s *SQLiteStore) CreateStack(ctx context.Context, stack *engine.StackRecord) error {
	row, err := newStackRow(stack)
	if err != nil {
		return err
	}

	query := `INSERT INTO stacks (` + stackColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		row.ID,
		row.Name,
		row.Template,
		row.Parameters,
		row.Action,
		row.Status,
		row.StatusReason,
		row.TimeoutSeconds,
		row.DisableRollback,
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}
	return nil
}

// UpdateStack overwrites the mutable columns of a stack row
func (s *SQLiteStore) UpdateStack(ctx context.Context, stack *engine.StackRecord) error {
	row, err := newStackRow(stack)
	if err != nil {
		return err
	}

	query := `
		UPDATE stacks
		SET template = ?, parameters = ?, action = ?, status = ?, status_reason = ?,
			timeout_seconds = ?, disable_rollback = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		row.Template,
		row.Parameters,
		row.Action,
		row.Status,
		row.StatusReason,
		row.TimeoutSeconds,
		row.DisableRollback,
		row.UpdatedAt,
		row.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stack: %w", err)
	}
	return expectOneRow(result, "stack", stack.ID)
}

// GetStack retrieves a stack by ID
func (s *SQLiteStore) GetStack(ctx context.Context, id string) (*engine.StackRecord, error) {
	query := `SELECT ` + stackColumns + ` FROM stacks WHERE id = ?`
	return s.getStack(ctx, query, id)
}

// GetStackByName retrieves a stack by name
func (s *SQLiteStore) GetStackByName(ctx context.Context, name string) (*engine.StackRecord, error) {
	query := `SELECT ` + stackColumns + ` FROM stacks WHERE name = ?`
	return s.getStack(ctx, query, name)
}

func (s *SQLiteStore) getStack(ctx context.Context, query, key string) (*engine.StackRecord, error) {
	row := &stackRow{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(row.fields()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("stack", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stack: %w", err)
	}
	return row.record()
}

// ListStacks lists all stacks ordered by creation time
func (s *SQLiteStore) ListStacks(ctx context.Context) ([]*engine.StackRecord, error) {
	query := `SELECT ` + stackColumns + ` FROM stacks ORDER BY created_at ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stacks: %w", err)
	}
	defer rows.Close()

	stacks := []*engine.StackRecord{}
	for rows.Next() {
		row := &stackRow{}
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, fmt.Errorf("failed to scan stack: %w", err)
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stacks: %w", err)
	}
	return stacks, nil
}

// DeleteStack deletes a stack; its resources and events go with it
func (s *SQLiteStore) DeleteStack(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stacks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stack: %w", err)
	}
	return expectOneRow(result, "stack", id)
}

const resourceColumns = `id, stack_id, name, type, action, status, status_reason,
	physical_id, metadata, created_at, updated_at`

// CreateResource inserts a resource row
func (s *SQLiteStore) CreateResource(ctx context.Context, resource *engine.ResourceRecord) error {
	metadata, err := encodeJSON(resource.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of resource %s: %w", resource.Name, err)
	}

	query := `INSERT INTO resources (` + resourceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		resource.ID,
		resource.StackID,
		resource.Name,
		resource.Type,
		string(resource.Action),
		string(resource.Status),
		resource.StatusReason,
		resource.PhysicalID,
		metadata,
		resource.CreatedAt,
		resource.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// UpdateResource overwrites the mutable columns of a resource row
func (s *SQLiteStore) UpdateResource(ctx context.Context, resource *engine.ResourceRecord) error {
	metadata, err := encodeJSON(resource.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of resource %s: %w", resource.Name, err)
	}

	query := `
		UPDATE resources
		SET type = ?, action = ?, status = ?, status_reason = ?, physical_id = ?,
			metadata = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		resource.Type,
		string(resource.Action),
		string(resource.Status),
		resource.StatusReason,
		resource.PhysicalID,
		metadata,
		resource.UpdatedAt,
		resource.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	return expectOneRow(result, "resource", resource.ID)
}

// DeleteResource deletes a resource row
func (s *SQLiteStore) DeleteResource(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return expectOneRow(result, "resource", id)
}

// ListResources lists the resources of a stack
func (s *SQLiteStore) ListResources(ctx context.Context, stackID string) ([]*engine.ResourceRecord, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE stack_id = ? ORDER BY created_at ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, stackID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*engine.ResourceRecord{}
	for rows.Next() {
		var (
			rec            engine.ResourceRecord
			action, status string
			metadata       string
		)
		err := rows.Scan(
			&rec.ID,
			&rec.StackID,
			&rec.Name,
			&rec.Type,
			&action,
			&status,
			&rec.StatusReason,
			&rec.PhysicalID,
			&metadata,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		rec.Action = engine.Action(action)
		rec.Status = engine.Status(status)
		if err := decodeJSON(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of resource %s: %w", rec.Name, err)
		}
		resources = append(resources, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return resources, nil
}

// AddEvent appends an event to the event log
func (s *SQLiteStore) AddEvent(ctx context.Context, event *engine.EventRecord) error {
	properties, err := encodeJSON(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode event properties: %w", err)
	}

	query := `
		INSERT INTO events (id, stack_id, resource_name, resource_type, action, status,
			reason, physical_id, properties, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.StackID,
		event.ResourceName,
		event.ResourceType,
		string(event.Action),
		string(event.Status),
		event.Reason,
		event.PhysicalID,
		properties,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents lists the events of a stack in insertion order
func (s *SQLiteStore) ListEvents(ctx context.Context, stackID string) ([]*engine.EventRecord, error) {
	query := `
		SELECT id, stack_id, resource_name, resource_type, action, status,
			   reason, physical_id, properties, timestamp
		FROM events
		WHERE stack_id = ?
		ORDER BY rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, stackID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*engine.EventRecord{}
	for rows.Next() {
		var (
			event          engine.EventRecord
			action, status string
			properties     string
		)
		err := rows.Scan(
			&event.ID,
			&event.StackID,
			&event.ResourceName,
			&event.ResourceType,
			&action,
			&status,
			&event.Reason,
			&event.PhysicalID,
			&properties,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Action = engine.Action(action)
		event.Status = engine.Status(status)
		if err := decodeJSON(properties, &event.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode event properties: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// CreateLock inserts the lock row of a stack, or reports its holder
func (s *SQLiteStore) CreateLock(ctx context.Context, stackID, engineID string) (string, error) {
	query := `INSERT INTO stack_locks (stack_id, engine_id, created_at) VALUES (?, ?, ?) ON CONFLICT(stack_id) DO NOTHING`

	// A row released between the insert and the select is simply retried.
	for attempt := 0; attempt < 3; attempt++ {
		result, err := s.db.ExecContext(ctx, query, stackID, engineID, time.Now().UTC())
		if err != nil {
			return "", fmt.Errorf("failed to create stack lock: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 1 {
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
func (s *SQLiteStore) StealLock(ctx context.Context, stackID, oldEngineID, newEngineID string) (string, error) {
	query := `UPDATE stack_locks SET engine_id = ? WHERE stack_id = ? AND engine_id = ?`

	result, err := s.db.ExecContext(ctx, query, newEngineID, stackID, oldEngineID)
	if err != nil {
		return "", fmt.Errorf("failed to steal stack lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return "", nil
	}
	return s.lockHolder(ctx, stackID)
}

// ReleaseLock deletes the lock row if engineID holds it
func (s *SQLiteStore) ReleaseLock(ctx context.Context, stackID, engineID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stack_locks WHERE stack_id = ? AND engine_id = ?`, stackID, engineID)
	if err != nil {
		return fmt.Errorf("failed to release stack lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return lock.ErrLockNotFound
	}
	return nil
}

func (s *SQLiteStore) lockHolder(ctx context.Context, stackID string) (string, error) {
	var holder string
	err := s.db.QueryRowContext(ctx, `SELECT engine_id FROM stack_locks WHERE stack_id = ?`, stackID).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", lock.ErrLockNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read stack lock: %w", err)
	}
	return holder, nil
}

// expectOneRow turns an update or delete that matched nothing into NotFound.
func expectOneRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError(kind, id)
	}
	return nil
}
