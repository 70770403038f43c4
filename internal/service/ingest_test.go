package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/beamline-tools/specmeta/internal/config"
	"github.com/beamline-tools/specmeta/internal/domain"
	"github.com/beamline-tools/specmeta/internal/offset"
)

// memWriter records writes for assertions instead of hitting a database.
type memWriter struct {
	mu       sync.Mutex
	scans    []writtenScan
	progress []*domain.FileProgress
}

type writtenScan struct {
	number  int64
	status  domain.ScanStatus
	columns []string
	rows    int
}

func (m *memWriter) WriteScan(_ context.Context, scan *domain.ScanRecord, table *domain.ScanTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := writtenScan{number: scan.Number, status: scan.Status}
	if table != nil {
		w.columns = append([]string(nil), table.Columns...)
		w.rows = table.Rows()
	}
	m.scans = append(m.scans, w)
	return nil
}

func (m *memWriter) WriteProgress(_ context.Context, p *domain.FileProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, p)
	return nil
}

func (m *memWriter) Flush(context.Context) error { return nil }
func (m *memWriter) Close() error                { return nil }

func (m *memWriter) written() []writtenScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]writtenScan(nil), m.scans...)
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		ScanDir:      dir,
		FileFormat:   "%07d_meta.log",
		StartScan:    1,
		PollInterval: time.Second,
		FollowTail:   true,
		MaxWorkers:   2,
	}
}

func writeScanFile(t *testing.T, dir string, number int64) string {
	t.Helper()
	content := fmt.Sprintf("#RUN %d ascan\n#COL x y\n1 2\n3 4\n", number)
	path := filepath.Join(dir, fmt.Sprintf("%07d_meta.log", number))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing scan file: %v", err)
	}
	return path
}

func TestRunPass_PersistsScans(t *testing.T) {
	dir := t.TempDir()
	writeScanFile(t, dir, 1)
	writeScanFile(t, dir, 2)

	mw := &memWriter{}
	ing, err := NewIngestor(testConfig(dir), nil, mw, nil)
	if err != nil {
		t.Fatalf("NewIngestor() error = %v", err)
	}

	if err := ing.runPass(context.Background()); err != nil {
		t.Fatalf("runPass() error = %v", err)
	}

	written := mw.written()
	if len(written) != 2 {
		t.Fatalf("expected 2 written scans, got %d", len(written))
	}
	seen := map[int64]writtenScan{}
	for _, w := range written {
		seen[w.number] = w
	}
	for _, n := range []int64{1, 2} {
		w, ok := seen[n]
		if !ok {
			t.Errorf("scan %d was not written", n)
			continue
		}
		if w.status != domain.StatusOK || w.rows != 2 {
			t.Errorf("scan %d: status %s rows %d, want OK with 2 rows", n, w.status, w.rows)
		}
	}
	if len(mw.progress) != 2 {
		t.Errorf("expected 2 progress records, got %d", len(mw.progress))
	}

	// Materialized tables are dropped after persisting.
	for _, pf := range []string{
		filepath.Join(dir, "0000001_meta.log"),
		filepath.Join(dir, "0000002_meta.log"),
	} {
		parsed, ok := ing.Updater().File(pf)
		if !ok {
			t.Fatalf("no retained state for %s", pf)
		}
		for _, scan := range parsed.Scans {
			if scan.Table() != nil {
				t.Errorf("scan %s still holds its table", scan.Name)
			}
		}
	}
}

func TestRunPass_SkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeScanFile(t, dir, 1)

	store, err := offset.NewBoltDBStore(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("NewBoltDBStore() error = %v", err)
	}
	defer store.Close()

	mw := &memWriter{}
	ing, err := NewIngestor(testConfig(dir), store, mw, nil)
	if err != nil {
		t.Fatalf("NewIngestor() error = %v", err)
	}
	ctx := context.Background()

	if err := ing.runPass(ctx); err != nil {
		t.Fatalf("first runPass() error = %v", err)
	}
	if len(mw.written()) != 1 {
		t.Fatalf("expected 1 written scan, got %d", len(mw.written()))
	}

	// A fresh ingestor over the same state re-parses the tail but finds
	// the stored progress unchanged, so nothing is rewritten.
	ing2, err := NewIngestor(testConfig(dir), store, mw, nil)
	if err != nil {
		t.Fatalf("NewIngestor() error = %v", err)
	}
	if err := ing2.runPass(ctx); err != nil {
		t.Fatalf("second runPass() error = %v", err)
	}
	if len(mw.written()) != 1 {
		t.Errorf("expected the unchanged file to be skipped, got %d writes", len(mw.written()))
	}
}

func TestRunPass_NoWriterStillTracksProgress(t *testing.T) {
	dir := t.TempDir()
	writeScanFile(t, dir, 1)

	store, err := offset.NewBoltDBStore(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("NewBoltDBStore() error = %v", err)
	}
	defer store.Close()

	ing, err := NewIngestor(testConfig(dir), store, nil, nil)
	if err != nil {
		t.Fatalf("NewIngestor() error = %v", err)
	}
	if err := ing.runPass(context.Background()); err != nil {
		t.Fatalf("runPass() error = %v", err)
	}

	stored, err := store.Get(context.Background(), offset.SourceScanFile,
		filepath.Join(dir, "0000001_meta.log"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored progress")
	}
	if stored.ScansParsed != 1 || stored.LastScanNumber != 1 {
		t.Errorf("unexpected progress %+v", stored)
	}
}
