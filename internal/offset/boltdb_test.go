package offset

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltDBStore {
	t.Helper()
	store, err := NewBoltDBStore(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("NewBoltDBStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SetGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	off := &FileOffset{
		FilePath:       "/data/exp42/0000012_meta.log",
		OffsetBytes:    4096,
		ScansParsed:    3,
		LastScanNumber: 12,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.Set(ctx, SourceScanFile, off); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, SourceScanFile, off.FilePath)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected a stored offset")
	}
	if got.OffsetBytes != 4096 || got.ScansParsed != 3 || got.LastScanNumber != 12 {
		t.Errorf("unexpected offset %+v", got)
	}
}

func TestStore_GetAbsent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), SourceScanFile, "/no/such/file")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for an absent offset, got %+v", got)
	}
}

func TestStore_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	path := "/data/exp42/0000001_meta.log"
	for _, bytes := range []int64{100, 200} {
		err := store.Set(ctx, SourceScanFile, &FileOffset{FilePath: path, OffsetBytes: bytes})
		if err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	got, err := store.Get(ctx, SourceScanFile, path)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OffsetBytes != 200 {
		t.Errorf("offset = %d, want the latest value 200", got.OffsetBytes)
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paths := []string{"/a/0000001_meta.log", "/a/0000002_meta.log"}
	for i, p := range paths {
		err := store.Set(ctx, SourceScanFile, &FileOffset{FilePath: p, OffsetBytes: int64(i + 1)})
		if err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	if err := store.Delete(ctx, SourceScanFile, paths[0]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := store.Get(ctx, SourceScanFile, paths[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected the deleted offset to be gone, got %+v", got)
	}
}
