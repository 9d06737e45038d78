package testutil

import (
	"context"
	"testing"
)

func TestStubDBUpsertsAndFilters(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO state(bucket, payload) VALUES ($1, $2) ON CONFLICT(bucket) DO UPDATE SET payload = EXCLUDED.payload"
	for _, v := range []string{"one", "two"} {
		if _, err := db.ExecContext(ctx, upsert, "protocols", []byte(v)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := db.ExecContext(ctx, upsert, "protocols.bak", []byte("zero")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rows := conn.Rows("state"); len(rows) != 2 {
		t.Fatalf("expected upsert to replace, got %v", rows)
	}
	var payload []byte
	if err := db.QueryRowContext(ctx, "SELECT payload FROM state WHERE bucket = $1", "protocols").Scan(&payload); err != nil {
		t.Fatalf("select: %v", err)
	}
	if string(payload) != "two" {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestStubDBRollbackRestoresTables(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO state(bucket, payload) VALUES ($1, $2)", "protocols", []byte("x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rows := conn.Rows("state"); len(rows) != 0 || conn.Rollbacks != 1 {
		t.Fatalf("rollback left rows %v", rows)
	}

	conn.FailCommit = true
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO state(bucket, payload) VALUES ($1, $2)", "protocols", []byte("y")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	if rows := conn.Rows("state"); len(rows) != 0 {
		t.Fatalf("failed commit left rows %v", rows)
	}
}
