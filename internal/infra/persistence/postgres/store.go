// Package postgres persists the protocol container as JSONB in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"dosecore/internal/infra/persistence/snapshot"
	"dosecore/pkg/domain"
)

var _ domain.ProtocolStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN applies when NewStore receives an empty DSN.
	DefaultDSN = "postgres://localhost/dosecore?sslmode=disable"

	upsertState = `INSERT INTO state(bucket, payload) VALUES ($1, $2) ON CONFLICT(bucket) DO UPDATE SET payload = EXCLUDED.payload`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store keeps the container in the `state` table with a backup row.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore connects, pings and ensures the state table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Load reads the primary payload, falling back to the backup row.
func (s *Store) Load(ctx context.Context) (domain.ProtocolStorageShape, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.ProtocolStorageShape{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var primary, backup []byte
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.ProtocolStorageShape{}, fmt.Errorf("scan state: %w", err)
		}
		switch bucket {
		case snapshot.Bucket:
			primary = payload
		case snapshot.BackupBucket:
			backup = payload
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ProtocolStorageShape{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot.Decode(primary, backup)
}

// Save rotates the current payload into the backup row and writes shape in
// a single transaction.
func (s *Store) Save(ctx context.Context, shape domain.ProtocolStorageShape) error {
	data, err := snapshot.Encode(shape)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, snapshot.Bucket).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read current payload: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, upsertState, snapshot.BackupBucket, current); err != nil {
			return fmt.Errorf("persist %s: %w", snapshot.BackupBucket, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertState, snapshot.Bucket, data); err != nil {
		return fmt.Errorf("persist %s: %w", snapshot.Bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
