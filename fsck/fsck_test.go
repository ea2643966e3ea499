package fsck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jawnsy/Alien-Libjio/journal"
)

func writeRecord(t *testing.T, dir *journal.Dir, id journal.ID, offset int64, payload []byte) string {
	t.Helper()
	f, err := dir.Allocate(id)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer f.Close()
	ops := []journal.OpDescriptor{{Offset: offset, Length: uint32(len(payload))}}
	if err := dir.WriteRecord(f, id, 0, ops, [][]byte{payload}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	return dir.PathFor(id)
}

func TestRunReplaysWellFormedRecordsAndUpdatesNextID(t *testing.T) {
	tmp := t.TempDir()
	dataPath := filepath.Join(tmp, "data")
	if err := os.WriteFile(dataPath, make([]byte, 16), 0600); err != nil {
		t.Fatalf("seed data file: %v", err)
	}
	journalPath := journal.DirFor(dataPath)
	dir, err := journal.Open(journalPath, true)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}

	writeRecord(t, dir, 1, 0, []byte("hello"))
	writeRecord(t, dir, 2, 8, []byte("world"))

	report, err := Run(journalPath, dataPath, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Total != 2 || report.Applied != 2 || report.Broken != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	got, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got[0:5]) != "hello" {
		t.Fatalf("expected hello at offset 0, got %q", got[0:5])
	}
	if string(got[8:13]) != "world" {
		t.Fatalf("expected world at offset 8, got %q", got[8:13])
	}

	remaining, err := dir.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected journal directory to be empty after recovery, got %v", remaining)
	}

	next, err := dir.LoadNextID()
	if err != nil {
		t.Fatalf("LoadNextID: %v", err)
	}
	if next <= 2 {
		t.Fatalf("expected next id to exceed 2, got %d", next)
	}
}

func TestRunIsIdempotentOnSecondPass(t *testing.T) {
	tmp := t.TempDir()
	dataPath := filepath.Join(tmp, "data")
	if err := os.WriteFile(dataPath, make([]byte, 16), 0600); err != nil {
		t.Fatalf("seed data file: %v", err)
	}
	journalPath := journal.DirFor(dataPath)
	dir, err := journal.Open(journalPath, true)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	writeRecord(t, dir, 1, 0, []byte("abc"))

	if _, err := Run(journalPath, dataPath, Options{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	report, err := Run(journalPath, dataPath, Options{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Total != 0 || report.Applied != 0 {
		t.Fatalf("expected no-op second pass, got %+v", report)
	}
}

func TestRunClassifiesCorruptRecordAsBrokenAndCleansItUp(t *testing.T) {
	tmp := t.TempDir()
	dataPath := filepath.Join(tmp, "data")
	if err := os.WriteFile(dataPath, make([]byte, 16), 0600); err != nil {
		t.Fatalf("seed data file: %v", err)
	}
	journalPath := journal.DirFor(dataPath)
	dir, err := journal.Open(journalPath, true)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	path := writeRecord(t, dir, 1, 0, []byte("abc"))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	report, err := Run(journalPath, dataPath, Options{Cleanup: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Broken != 1 || report.Cleaned != 1 || report.Applied != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt record to be removed, stat err=%v", err)
	}
}

func TestRunReportsErrNoJournalWhenDirectoryMissing(t *testing.T) {
	tmp := t.TempDir()
	dataPath := filepath.Join(tmp, "data")
	_, err := Run(journal.DirFor(dataPath), dataPath, Options{})
	if err != ErrNoJournal {
		t.Fatalf("expected ErrNoJournal, got %v", err)
	}
}
