package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ProtocolStorageShape is the single persisted container of protocol records.
// Persistence treats it as an opaque blob; the core only iterates and filters.
type ProtocolStorageShape struct {
	Protocols   []ProtocolRecord `json:"protocols"`
	LastUpdated time.Time        `json:"last_updated"`
}

type storageEnvelope struct {
	Protocols   []json.RawMessage `json:"protocols"`
	LastUpdated time.Time         `json:"last_updated"`
}

// MarshalJSON encodes every record with its discriminator.
func (s ProtocolStorageShape) MarshalJSON() ([]byte, error) {
	env := storageEnvelope{Protocols: make([]json.RawMessage, 0, len(s.Protocols)), LastUpdated: s.LastUpdated}
	for _, rec := range s.Protocols {
		data, err := MarshalRecord(rec)
		if err != nil {
			return nil, err
		}
		env.Protocols = append(env.Protocols, data)
	}
	return json.Marshal(env)
}

// UnmarshalJSON restores the tagged records.
func (s *ProtocolStorageShape) UnmarshalJSON(data []byte) error {
	var env storageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode protocol storage: %w", err)
	}
	out := ProtocolStorageShape{Protocols: make([]ProtocolRecord, 0, len(env.Protocols)), LastUpdated: env.LastUpdated}
	for i, raw := range env.Protocols {
		rec, err := UnmarshalRecord(raw)
		if err != nil {
			return fmt.Errorf("protocol %d: %w", i, err)
		}
		out.Protocols = append(out.Protocols, rec)
	}
	*s = out
	return nil
}

// Find returns the record with the given protocol ID and its index.
func (s ProtocolStorageShape) Find(id string) (ProtocolRecord, int, bool) {
	for i, rec := range s.Protocols {
		if rec.Base().ID == id {
			return rec, i, true
		}
	}
	return nil, -1, false
}

// Upsert replaces the record with the same ID or appends it.
func (s *ProtocolStorageShape) Upsert(r ProtocolRecord) {
	if _, idx, ok := s.Find(r.Base().ID); ok {
		s.Protocols[idx] = r
		return
	}
	s.Protocols = append(s.Protocols, r)
}

// Remove deletes the record with the given ID.
func (s *ProtocolStorageShape) Remove(id string) bool {
	_, idx, ok := s.Find(id)
	if !ok {
		return false
	}
	s.Protocols = append(s.Protocols[:idx], s.Protocols[idx+1:]...)
	return true
}

// Filter returns records in the given state, ordered by creation time then ID.
// An empty state returns every record.
func (s ProtocolStorageShape) Filter(state ProtocolState) []ProtocolRecord {
	var out []ProtocolRecord
	for _, rec := range s.Protocols {
		if state == "" || rec.State() == state {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Base(), out[j].Base()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Drafts returns every draft record.
func (s ProtocolStorageShape) Drafts() []ProtocolDraft {
	var out []ProtocolDraft
	for _, rec := range s.Filter(StateDraft) {
		out = append(out, rec.(ProtocolDraft))
	}
	return out
}

// Actives returns every active record.
func (s ProtocolStorageShape) Actives() []ProtocolActive {
	var out []ProtocolActive
	for _, rec := range s.Filter(StateActive) {
		out = append(out, rec.(ProtocolActive))
	}
	return out
}

// Completed returns every completed record.
func (s ProtocolStorageShape) Completed() []ProtocolCompleted {
	var out []ProtocolCompleted
	for _, rec := range s.Filter(StateCompleted) {
		out = append(out, rec.(ProtocolCompleted))
	}
	return out
}

// Clone deep-copies the container.
func (s ProtocolStorageShape) Clone() ProtocolStorageShape {
	out := ProtocolStorageShape{Protocols: make([]ProtocolRecord, len(s.Protocols)), LastUpdated: s.LastUpdated}
	for i, rec := range s.Protocols {
		out.Protocols[i] = CloneRecord(rec)
	}
	return out
}

// ProtocolStore loads and saves the whole storage container atomically.
// Implementations own atomicity; callers serialize read-modify-write cycles.
type ProtocolStore interface {
	Load(ctx context.Context) (ProtocolStorageShape, error)
	Save(ctx context.Context, shape ProtocolStorageShape) error
	Close() error
}
