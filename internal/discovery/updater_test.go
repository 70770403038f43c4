package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const testFormat = "%07d_meta.log"

func writeScan(t *testing.T, dir string, number int64, extraScans ...int64) string {
	t.Helper()
	content := scanContent(number)
	for _, n := range extraScans {
		content += scanContent(n)
	}
	path := filepath.Join(dir, fmt.Sprintf(testFormat, number))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing scan file: %v", err)
	}
	return path
}

func scanContent(number int64) string {
	return fmt.Sprintf("#RUN %d ascan\n#COL x y\n1 2\n3 4\n", number)
}

func TestFilePath(t *testing.T) {
	u := New("/data/exp42", testFormat, 1, nil)
	want := filepath.Join("/data/exp42", "0000012_meta.log")
	if got := u.FilePath(12); got != want {
		t.Errorf("FilePath(12) = %q, want %q", got, want)
	}
}

func TestPass_Sequential(t *testing.T) {
	dir := t.TempDir()
	for n := int64(1); n <= 5; n++ {
		writeScan(t, dir, n)
	}

	u := New(dir, testFormat, 1, nil)
	touched, err := u.Pass()
	if err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if len(touched) != 5 {
		t.Fatalf("expected 5 parsed files, got %d", len(touched))
	}
	if u.Cursor() != 6 {
		t.Errorf("cursor = %d, want 6", u.Cursor())
	}
	for i, pf := range touched {
		if len(pf.Scans) != 1 {
			t.Errorf("file %d: expected 1 scan, got %d", i, len(pf.Scans))
			continue
		}
		if pf.Scans[0].Number != int64(i+1) {
			t.Errorf("file %d: scan number = %d, want %d", i, pf.Scans[0].Number, i+1)
		}
	}

	// Nothing new: the pass is a no-op and the cursor stays put.
	touched, err = u.Pass()
	if err != nil {
		t.Fatalf("second Pass() error = %v", err)
	}
	if len(touched) != 0 {
		t.Errorf("expected no touched files, got %d", len(touched))
	}
	if u.Cursor() != 6 {
		t.Errorf("cursor = %d, want 6", u.Cursor())
	}
}

func TestPass_SequentialFollowsGrowingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScan(t, dir, 1)

	u := New(dir, testFormat, 1, nil)
	if _, err := u.Pass(); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}

	// The producer appends a second scan block to the same file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening scan file for append: %v", err)
	}
	if _, err := f.WriteString(scanContent(101)); err != nil {
		t.Fatalf("appending scan block: %v", err)
	}
	f.Close()

	touched, err := u.Pass()
	if err != nil {
		t.Fatalf("Pass() after growth error = %v", err)
	}
	if len(touched) != 1 {
		t.Fatalf("expected the grown file to be re-parsed, got %d touched", len(touched))
	}
	pf := touched[0]
	if len(pf.Scans) != 2 {
		t.Fatalf("expected 2 scans after growth, got %d", len(pf.Scans))
	}
	if pf.Scans[0].Number != 1 || pf.Scans[1].Number != 101 {
		t.Errorf("unexpected scan numbers %d, %d", pf.Scans[0].Number, pf.Scans[1].Number)
	}
	if u.Cursor() != 2 {
		t.Errorf("cursor = %d, want 2", u.Cursor())
	}
}

func TestPass_Explicit(t *testing.T) {
	dir := t.TempDir()
	writeScan(t, dir, 2)
	writeScan(t, dir, 4)

	u := New(dir, testFormat, 1, []int64{2, 4, 9})
	touched, err := u.Pass()
	if err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 parsed files, got %d", len(touched))
	}
	if u.Cursor() != 9 {
		t.Errorf("cursor = %d, want 9 after stopping at the missing file", u.Cursor())
	}

	// The missing file shows up later; the pass picks it up.
	writeScan(t, dir, 9)
	touched, err = u.Pass()
	if err != nil {
		t.Fatalf("second Pass() error = %v", err)
	}
	found := false
	for _, pf := range touched {
		if len(pf.Scans) == 1 && pf.Scans[0].Number == 9 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected scan 9 among touched files")
	}
}

func TestPass_RetainsStateAcrossPasses(t *testing.T) {
	dir := t.TempDir()
	path := writeScan(t, dir, 1)

	u := New(dir, testFormat, 1, nil)
	if _, err := u.Pass(); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	pf, ok := u.File(path)
	if !ok {
		t.Fatalf("expected retained state for %s", path)
	}
	if _, err := u.Pass(); err != nil {
		t.Fatalf("second Pass() error = %v", err)
	}
	pf2, _ := u.File(path)
	if pf != pf2 {
		t.Errorf("parse state was not retained across passes")
	}
}
