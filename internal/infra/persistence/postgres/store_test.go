package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"dosecore/internal/infra/persistence/postgres/testutil"
	"dosecore/internal/infra/persistence/snapshot"
	"dosecore/internal/infra/persistence/storetest"
	"dosecore/pkg/domain"
)

func openStub(t *testing.T, db *sql.DB) *Store {
	t.Helper()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	var conn *testutil.StubConn
	storetest.Run(t,
		func(t *testing.T) domain.ProtocolStore {
			var db *sql.DB
			db, conn = testutil.NewStubDB()
			return openStub(t, db)
		},
		func(t *testing.T) domain.ProtocolStore { return openStub(t, testutil.Reopen(conn)) },
	)
}

func TestNewStoreCreatesJSONBTable(t *testing.T) {
	db, conn := testutil.NewStubDB()
	store := openStub(t, db)
	t.Cleanup(func() { _ = store.Close() })
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "JSONB") {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
	if store.DB() != db {
		t.Fatalf("DB should expose the opened handle")
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestSaveRotatesBackup(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	store := openStub(t, db)
	t.Cleanup(func() { _ = store.Close() })

	first := storetest.Fixture()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := first.Clone()
	second.Remove("a1")
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	var backup []byte
	for _, row := range conn.Rows("state") {
		if row["bucket"] == snapshot.BackupBucket {
			backup, _ = row["payload"].([]byte)
		}
	}
	restored, err := snapshot.Decode(nil, backup)
	if err != nil || len(restored.Protocols) != 3 {
		t.Fatalf("backup should hold the previous container: %v %d", err, len(restored.Protocols))
	}
	if conn.Commits != 2 {
		t.Fatalf("expected two commits, got %d", conn.Commits)
	}
}

func TestSaveFailureLeavesPreviousState(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	store := openStub(t, db)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Save(ctx, storetest.Fixture()); err != nil {
		t.Fatalf("save: %v", err)
	}

	conn.FailCommit = true
	empty := snapshot.Empty()
	if err := store.Save(ctx, empty); err == nil {
		t.Fatalf("expected commit failure")
	}
	conn.FailCommit = false
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Protocols) != 3 {
		t.Fatalf("failed save must not change the container, got %d records", len(got.Protocols))
	}

	conn.FailTables = map[string]bool{"state": true}
	if err := store.Save(ctx, empty); err == nil {
		t.Fatalf("expected exec failure")
	}
	if _, err := store.Load(ctx); err == nil {
		t.Fatalf("expected query failure")
	}
}

func TestSaveBeginFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	store := openStub(t, db)
	t.Cleanup(func() { _ = store.Close() })
	conn.FailBegin = true
	if err := store.Save(context.Background(), storetest.Fixture()); err == nil || !strings.Contains(err.Error(), "begin") {
		t.Fatalf("expected begin error, got %v", err)
	}
}
