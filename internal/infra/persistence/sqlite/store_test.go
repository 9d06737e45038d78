package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dosecore/internal/infra/persistence/snapshot"
	"dosecore/internal/infra/persistence/storetest"
	"dosecore/pkg/domain"
)

func openAt(t *testing.T, path string) domain.ProtocolStore {
	t.Helper()
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	var last string
	storetest.Run(t,
		func(t *testing.T) domain.ProtocolStore {
			last = filepath.Join(t.TempDir(), "state.db")
			return openAt(t, last)
		},
		func(t *testing.T) domain.ProtocolStore { return openAt(t, last) },
	)
}

func TestSaveKeepsBackupOfPreviousPayload(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	first := storetest.Fixture()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := first.Clone()
	second.Remove("d1")
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	var backup []byte
	if err := store.DB().QueryRow(`SELECT payload FROM state WHERE bucket = ?`, snapshot.BackupBucket).Scan(&backup); err != nil {
		t.Fatalf("read backup: %v", err)
	}
	restored, err := snapshot.Decode(nil, backup)
	if err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	if len(restored.Protocols) != len(first.Protocols) {
		t.Fatalf("backup should hold the previous container, got %d records", len(restored.Protocols))
	}
}

func TestLoadFallsBackWhenPrimaryCorrupt(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	want := storetest.Fixture()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.DB().Exec(`UPDATE state SET payload = ? WHERE bucket = ?`, []byte("{torn"), snapshot.Bucket); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Protocols) != len(want.Protocols) {
		t.Fatalf("expected backup records, got %d", len(got.Protocols))
	}
}

func TestDefaultPath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	store, err := NewStore("")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if store.Path() != DefaultPath {
		t.Fatalf("unexpected path %s", store.Path())
	}
}
