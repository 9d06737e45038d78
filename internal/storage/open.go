// Package storage selects and opens the configured ProtocolStore backend.
package storage

import (
	"context"
	"fmt"

	"dosecore/internal/blob"
	"dosecore/internal/infra/persistence/blobstore"
	"dosecore/internal/infra/persistence/memory"
	"dosecore/internal/infra/persistence/postgres"
	"dosecore/internal/infra/persistence/sqlite"
	"dosecore/pkg/domain"
)

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverBlob     Driver = "blob"     // JSON object in a blob backend
)

// Config selects the backend. Only the fields of the chosen driver are read.
type Config struct {
	Driver      Driver      `yaml:"driver"`
	SQLitePath  string      `yaml:"sqlite_path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Blob        blob.Config `yaml:"blob"`
	BlobPrefix  string      `yaml:"blob_prefix"`
}

// Open constructs the configured store. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config) (domain.ProtocolStore, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case DriverBlob:
		blobs, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob backend: %w", err)
		}
		return blobstore.New(blobs, cfg.BlobPrefix), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
