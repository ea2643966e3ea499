package platform

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestPwriteFullThenPreadFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	want := []byte("hello world")
	if n, err := PwriteFull(f, want, 100); err != nil || n != len(want) {
		t.Fatalf("PwriteFull: n=%d err=%v", n, err)
	}

	got := make([]byte, len(want))
	if n, err := PreadFull(f, got, 100); err != nil || n != len(want) {
		t.Fatalf("PreadFull: n=%d err=%v", n, err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPreadFullShortReadReturnsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := PwriteFull(f, []byte("abc"), 0); err != nil {
		t.Fatalf("PwriteFull: %v", err)
	}

	buf := make([]byte, 10)
	n, err := PreadFull(f, buf, 0)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected partial count 3, got %d", n)
	}
}

func TestFsyncDir(t *testing.T) {
	dir := t.TempDir()
	if err := FsyncDir(dir); err != nil {
		t.Fatalf("FsyncDir: %v", err)
	}
}

func TestRenameIsAtomicSameDir(t *testing.T) {
	dir := t.TempDir()
	oldp := filepath.Join(dir, "old")
	newp := filepath.Join(dir, "new")

	if err := os.WriteFile(oldp, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Rename(oldp, newp); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(oldp); !os.IsNotExist(err) {
		t.Fatalf("old path should be gone, got err=%v", err)
	}
	if _, err := os.Stat(newp); err != nil {
		t.Fatalf("new path should exist: %v", err)
	}
}

func TestLockRangeThenUnlockRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lockfile")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := LockRange(f, 0, 10); err != nil {
		t.Fatalf("LockRange: %v", err)
	}
	if err := UnlockRange(f, 0, 10); err != nil {
		t.Fatalf("UnlockRange: %v", err)
	}
}

func TestClassifyNotFound(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error opening missing file")
	}
	if Classify(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", Classify(err))
	}
}
