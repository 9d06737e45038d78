// Package sqlite persists the protocol container to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"dosecore/internal/infra/persistence/snapshot"
	"dosecore/pkg/domain"
)

var _ domain.ProtocolStore = (*Store)(nil)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "dosecore.db"

const upsertState = `INSERT INTO state(bucket, payload) VALUES(?, ?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`

// Store keeps the encoded container in a single `state` table row, with the
// previous payload copied to a backup row on every save.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

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
			return domain.ProtocolStorageShape{}, fmt.Errorf("scan: %w", err)
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

// Save copies the current payload to the backup row and writes shape, both in
// one transaction.
func (s *Store) Save(ctx context.Context, shape domain.ProtocolStorageShape) (retErr error) {
	data, err := snapshot.Encode(shape)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, snapshot.Bucket).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read current: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, upsertState, snapshot.BackupBucket, current); err != nil {
			return fmt.Errorf("upsert %s: %w", snapshot.BackupBucket, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertState, snapshot.Bucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", snapshot.Bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
