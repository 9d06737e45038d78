// Package storetest holds the behavioural checks every domain.ProtocolStore
// backend must pass, plus a fixture container.
package storetest

import (
	"context"
	"testing"
	"time"

	"dosecore/pkg/domain"
)

// Fixture returns a container holding one record of each variant.
func Fixture() domain.ProtocolStorageShape {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sched := domain.Weekly()
	base := func(id string, state domain.ProtocolState, offset time.Duration) domain.ProtocolBase {
		return domain.ProtocolBase{
			ID:      id,
			Version: 1,
			State:   state,
			Name:    "protocol " + id,
			Peptides: []domain.ProtocolPeptide{{
				ID:        id + "-e1",
				PeptideID: "semaglutide",
				Name:      "Semaglutide",
				Dose:      &domain.PeptideDosePlan{PerInjectionMg: 0.25, Schedule: &sched, DeviceID: "insulin-0.3"},
				Supply:    domain.PeptideSupplyPlan{VialSizeMg: 10, ReconstitutionVolumeMl: 2},
			}},
			CreatedAt: at.Add(offset),
			UpdatedAt: at.Add(offset),
		}
	}
	result := domain.NewValidationResult("hash-1", nil, at)
	snap := domain.ActiveProtocolSnapshot{ValidationHash: "hash-1", ActivatedAt: at}
	return domain.ProtocolStorageShape{
		Protocols: []domain.ProtocolRecord{
			domain.ProtocolDraft{Protocol: base("d1", domain.StateDraft, 0), Validation: domain.PendingValidation()},
			domain.ProtocolActive{Protocol: base("a1", domain.StateActive, time.Hour), Validation: result, Snapshot: snap},
			domain.ProtocolCompleted{Protocol: base("c1", domain.StateCompleted, 2*time.Hour), Validation: result, Snapshot: snap, CompletedAt: at.Add(48 * time.Hour)},
		},
		LastUpdated: at,
	}
}

// Run exercises open's store: empty load, round trip and overwrite. open must
// return a fresh, empty store each call; reopen, when non-nil, must return a
// new handle over the same underlying data.
func Run(t *testing.T, open func(t *testing.T) domain.ProtocolStore, reopen func(t *testing.T) domain.ProtocolStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		store := open(t)
		defer func() { _ = store.Close() }()
		shape, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load empty: %v", err)
		}
		if len(shape.Protocols) != 0 {
			t.Fatalf("expected no records, got %d", len(shape.Protocols))
		}
	})

	t.Run("round trip", func(t *testing.T) {
		store := open(t)
		defer func() { _ = store.Close() }()
		want := Fixture()
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		assertSameRecords(t, want, got)
		if !got.LastUpdated.Equal(want.LastUpdated) {
			t.Fatalf("last updated %v want %v", got.LastUpdated, want.LastUpdated)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		store := open(t)
		defer func() { _ = store.Close() }()
		first := Fixture()
		if err := store.Save(ctx, first); err != nil {
			t.Fatalf("save: %v", err)
		}
		second := first.Clone()
		second.Remove("d1")
		if err := store.Save(ctx, second); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		assertSameRecords(t, second, got)
	})

	t.Run("isolation", func(t *testing.T) {
		store := open(t)
		defer func() { _ = store.Close() }()
		shape := Fixture()
		if err := store.Save(ctx, shape); err != nil {
			t.Fatalf("save: %v", err)
		}
		draft := shape.Protocols[0].(domain.ProtocolDraft)
		draft.Protocol.Peptides[0].Dose.PerInjectionMg = 99
		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		rec, _, _ := got.Find("d1")
		if rec.Base().Peptides[0].Dose.PerInjectionMg != 0.25 {
			t.Fatalf("store shares memory with the caller")
		}
	})

	if reopen == nil {
		return
	}
	t.Run("reopen", func(t *testing.T) {
		store := open(t)
		want := Fixture()
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		again := reopen(t)
		defer func() { _ = again.Close() }()
		got, err := again.Load(ctx)
		if err != nil {
			t.Fatalf("load after reopen: %v", err)
		}
		assertSameRecords(t, want, got)
	})
}

func assertSameRecords(t *testing.T, want, got domain.ProtocolStorageShape) {
	t.Helper()
	if len(got.Protocols) != len(want.Protocols) {
		t.Fatalf("expected %d records, got %d", len(want.Protocols), len(got.Protocols))
	}
	for i, rec := range want.Protocols {
		other := got.Protocols[i]
		if other.State() != rec.State() || other.Base().ID != rec.Base().ID {
			t.Fatalf("record %d: got %s/%s want %s/%s", i, other.State(), other.Base().ID, rec.State(), rec.Base().ID)
		}
		if other.Result().Hash != rec.Result().Hash {
			t.Fatalf("record %d: validation hash %q want %q", i, other.Result().Hash, rec.Result().Hash)
		}
		if err := domain.CheckIntegrity(other); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
}
