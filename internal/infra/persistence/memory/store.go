// Package memory provides an in-process ProtocolStore for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"

	"dosecore/internal/infra/persistence/snapshot"
	"dosecore/pkg/domain"
)

var _ domain.ProtocolStore = (*Store)(nil)

// Store keeps the encoded container in memory. Encoding on every save means a
// loaded container never aliases one the caller still holds.
type Store struct {
	mu      sync.RWMutex
	payload []byte
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Load decodes the last saved container.
func (s *Store) Load(_ context.Context) (domain.ProtocolStorageShape, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot.Decode(s.payload, nil)
}

// Save replaces the stored container.
func (s *Store) Save(_ context.Context, shape domain.ProtocolStorageShape) error {
	data, err := snapshot.Encode(shape)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.payload = data
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
