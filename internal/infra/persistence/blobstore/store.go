// Package blobstore persists the protocol container as a JSON object in any
// blob backend (filesystem, S3/MinIO or memory).
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"dosecore/internal/blob/core"
	"dosecore/internal/infra/persistence/snapshot"
	"dosecore/pkg/domain"
)

var _ domain.ProtocolStore = (*Store)(nil)

const (
	// Key is the object holding the current container.
	Key = "protocols.json"
	// BackupKey holds the container as it was before the last save.
	BackupKey = Key + ".bak"

	contentType = "application/json"
)

// Store adapts a create-only blob store to ProtocolStore. Saves rotate the
// current object into BackupKey before writing, so an interrupted save leaves
// at least one complete copy for Load.
type Store struct {
	blobs  core.Store
	prefix string
	mu     sync.Mutex
}

// New wraps blobs. prefix namespaces the keys, e.g. "tenant-a/".
func New(blobs core.Store, prefix string) *Store {
	return &Store{blobs: blobs, prefix: prefix}
}

// Blobs returns the wrapped backend.
func (s *Store) Blobs() core.Store { return s.blobs }

func (s *Store) key(name string) string { return s.prefix + name }

// Load reads the primary object, falling back to the backup. One listing of
// the Key prefix finds both objects, so absent ones are never fetched.
func (s *Store) Load(ctx context.Context) (domain.ProtocolStorageShape, error) {
	infos, err := s.blobs.List(ctx, s.key(Key))
	if err != nil {
		return domain.ProtocolStorageShape{}, fmt.Errorf("list %s: %w", s.key(Key), err)
	}
	var primary, backup []byte
	for _, info := range infos {
		var dst *[]byte
		switch info.Key {
		case s.key(Key):
			dst = &primary
		case s.key(BackupKey):
			dst = &backup
		default:
			continue
		}
		data, err := s.fetch(ctx, info.Key)
		if err != nil {
			return domain.ProtocolStorageShape{}, err
		}
		*dst = data
	}
	return snapshot.Decode(primary, backup)
}

// Save writes shape after preserving the current object as the backup.
func (s *Store) Save(ctx context.Context, shape domain.ProtocolStorageShape) error {
	data, err := snapshot.Encode(shape)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.read(ctx, s.key(Key))
	if err != nil {
		return err
	}
	if current != nil {
		if err := s.replace(ctx, s.key(BackupKey), current); err != nil {
			return fmt.Errorf("rotate backup: %w", err)
		}
	}
	if err := s.replace(ctx, s.key(Key), data); err != nil {
		return fmt.Errorf("write protocols: %w", err)
	}
	return nil
}

// Close is a no-op; blob backends hold no handles.
func (s *Store) Close() error { return nil }

// read returns nil, nil when key does not exist.
func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	if _, err := s.blobs.Head(ctx, key); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	return s.fetch(ctx, key)
}

// fetch reads key. A key removed since it was listed reads as absent.
func (s *Store) fetch(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) replace(ctx context.Context, key string, data []byte) error {
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return err
	}
	_, err := s.blobs.Put(ctx, key, bytes.NewReader(data), core.PutOptions{ContentType: contentType})
	return err
}
