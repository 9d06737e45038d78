package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"dosecore/internal/blob/core"
	"dosecore/internal/infra/blob/fs"
	"dosecore/internal/infra/blob/memory"
	"dosecore/internal/infra/persistence/storetest"
	"dosecore/pkg/domain"
)

func TestStoreContractMemory(t *testing.T) {
	storetest.Run(t, func(*testing.T) domain.ProtocolStore { return New(memory.New(), "") }, nil)
}

func TestStoreContractFilesystem(t *testing.T) {
	var root string
	open := func(t *testing.T) domain.ProtocolStore {
		blobs, err := fs.New(root)
		if err != nil {
			t.Fatalf("fs.New: %v", err)
		}
		return New(blobs, "state/")
	}
	storetest.Run(t,
		func(t *testing.T) domain.ProtocolStore {
			root = t.TempDir()
			return open(t)
		},
		open,
	)
}

func TestSaveRotatesBackup(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	store := New(blobs, "")
	first := storetest.Fixture()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := blobs.Head(ctx, BackupKey); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("first save has nothing to back up: %v", err)
	}
	second := first.Clone()
	second.Remove("c1")
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := blobs.Head(ctx, BackupKey)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if info.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}
}

func TestLoadFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	store := New(blobs, "")
	want := storetest.Fixture()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	// An interrupted save deletes the primary before the new copy lands.
	if _, err := blobs.Delete(ctx, Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Protocols) != len(want.Protocols) {
		t.Fatalf("expected backup records, got %d", len(got.Protocols))
	}

	if _, err := blobs.Put(ctx, Key, bytes.NewReader([]byte("{torn")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err = store.Load(ctx); err != nil || len(got.Protocols) != len(want.Protocols) {
		t.Fatalf("corrupt primary should fall back: %v", err)
	}
}

type failingBlobs struct {
	core.Store
	err error
}

func (f failingBlobs) Get(context.Context, string) (core.Info, io.ReadCloser, error) {
	return core.Info{}, nil, f.err
}

func (f failingBlobs) Head(context.Context, string) (core.Info, error) {
	return core.Info{}, f.err
}

func (f failingBlobs) List(context.Context, string) ([]core.Info, error) {
	return nil, f.err
}

func TestBackendErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	store := New(failingBlobs{Store: memory.New(), err: boom}, "")
	if _, err := store.Load(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if err := store.Save(context.Background(), storetest.Fixture()); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

type countingBlobs struct {
	core.Store
	gets  map[string]int
	heads int
}

func (c *countingBlobs) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	c.gets[key]++
	return c.Store.Get(ctx, key)
}

func (c *countingBlobs) Head(ctx context.Context, key string) (core.Info, error) {
	c.heads++
	return c.Store.Head(ctx, key)
}

func TestLoadFetchesOnlyListedObjects(t *testing.T) {
	ctx := context.Background()
	blobs := &countingBlobs{Store: memory.New(), gets: map[string]int{}}
	store := New(blobs, "t/")
	if _, err := blobs.Store.Put(ctx, "t/protocols.json.other", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil || len(got.Protocols) != 0 {
		t.Fatalf("empty store: %+v %v", got, err)
	}
	if len(blobs.gets) != 0 {
		t.Fatalf("absent objects must not be fetched: %v", blobs.gets)
	}

	if err := store.Save(ctx, storetest.Fixture()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if blobs.heads == 0 || blobs.gets["t/"+Key] != 0 {
		t.Fatalf("first save must probe with Head only: heads=%d gets=%v", blobs.heads, blobs.gets)
	}
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if blobs.gets["t/"+Key] != 1 || blobs.gets["t/"+BackupKey] != 0 || blobs.gets["t/protocols.json.other"] != 0 {
		t.Fatalf("expected only the primary to be read, got %v", blobs.gets)
	}
}
