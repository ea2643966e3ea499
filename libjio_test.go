package libjio

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jawnsy/Alien-Libjio/journal"
)

func seedDataFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("seed data file: %v", err)
	}
	return path
}

// TestS1SingleWriteSurvivesCrash simulates a crash between the
// journal-directory fsync (step 3, the durability point) and the
// data-file write (step 4) by writing a durable journal record directly
// through the journal package — bypassing Transaction.Commit, which
// would apply the write before returning — then opening a fresh Handle
// and letting its implicit recovery roll the record forward.
func TestS1SingleWriteSurvivesCrash(t *testing.T) {
	path := seedDataFile(t, 4096)

	dir, err := journal.Open(journal.DirFor(path), true)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	id, err := dir.AllocateID()
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	f, err := dir.Allocate(id)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ops := []journal.OpDescriptor{{Offset: 100, Length: 4}}
	if err := dir.WriteRecord(f, id, 0, ops, [][]byte{[]byte("AAAA")}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	f.Close()

	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	got := make([]byte, 4)
	if _, err := h.Pread(got, 100); err != nil {
		t.Fatalf("Pread: %v", err)
	}
	if string(got) != "AAAA" {
		t.Fatalf("expected AAAA at offset 100, got %q", got)
	}

	rest := make([]byte, 100)
	if _, err := h.Pread(rest, 0); err != nil {
		t.Fatalf("Pread prefix: %v", err)
	}
	if !bytes.Equal(rest, make([]byte, 100)) {
		t.Fatalf("expected bytes 0..100 to remain zero")
	}

	ids, err := dir.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected implicit recovery to remove the replayed record, found %v", ids)
	}
}

// TestS2DisjointConcurrentCommits commits two non-overlapping
// transactions from separate goroutines and expects both writes present
// once both Commit calls return.
func TestS2DisjointConcurrentCommits(t *testing.T) {
	path := seedDataFile(t, 4096)
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		txn := h.NewTransaction()
		txn.AddWrite(0, []byte("XXXX"))
		errA = txn.Commit()
	}()
	go func() {
		defer wg.Done()
		txn := h.NewTransaction()
		txn.AddWrite(1024, []byte("YYYY"))
		errB = txn.Commit()
	}()
	wg.Wait()

	if errA != nil {
		t.Fatalf("commit A: %v", errA)
	}
	if errB != nil {
		t.Fatalf("commit B: %v", errB)
	}

	got := make([]byte, 4)
	h.Pread(got, 0)
	if string(got) != "XXXX" {
		t.Fatalf("expected XXXX at offset 0, got %q", got)
	}
	h.Pread(got, 1024)
	if string(got) != "YYYY" {
		t.Fatalf("expected YYYY at offset 1024, got %q", got)
	}
}

// TestS3OverlappingCommitsSerialize commits two transactions whose
// writes overlap ("AAAA" at 10, "BBBB" at 12) from separate goroutines
// and checks that the result is one of the two valid serial outcomes,
// never a byte-level blend.
func TestS3OverlappingCommitsSerialize(t *testing.T) {
	path := seedDataFile(t, 4096)
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		txn := h.NewTransaction()
		txn.AddWrite(10, []byte("AAAA"))
		if err := txn.Commit(); err != nil {
			t.Errorf("commit A: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		txn := h.NewTransaction()
		txn.AddWrite(12, []byte("BBBB"))
		if err := txn.Commit(); err != nil {
			t.Errorf("commit B: %v", err)
		}
	}()
	wg.Wait()

	got := make([]byte, 6)
	h.Pread(got, 10)
	if string(got) != "AABBBB" && string(got) != "AAAABB" {
		t.Fatalf("expected a serial outcome, got %q", got)
	}
}

// TestS4CorruptionIsIgnored writes a durable record directly (as S1
// does), flips one of its bytes, then runs recovery through the
// package-level Fsck entry point and checks the record is classified
// broken, never applied, and — with cleanup — removed.
func TestS4CorruptionIsIgnored(t *testing.T) {
	path := seedDataFile(t, 4096)

	dir, err := journal.Open(journal.DirFor(path), true)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	id, err := dir.AllocateID()
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	f, err := dir.Allocate(id)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ops := []journal.OpDescriptor{{Offset: 50, Length: 4}}
	if err := dir.WriteRecord(f, id, 0, ops, [][]byte{[]byte("ZZZZ")}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	f.Close()

	recordPath := dir.PathFor(id)
	raw, err := os.ReadFile(recordPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[0] ^= 0xFF
	if err := os.WriteFile(recordPath, raw, 0600); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	report, err := Fsck(path, true)
	if err != nil {
		t.Fatalf("Fsck: %v", err)
	}
	if report.Broken != 1 || report.Applied != 0 || report.Cleaned != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	untouched := make([]byte, 4)
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile data: %v", err)
	}
	if !bytes.Equal(got[50:54], untouched) {
		t.Fatalf("expected offset 50..54 to remain zero, got %q", got[50:54])
	}
	if _, err := os.Stat(recordPath); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt record removed, stat err=%v", err)
	}
}

// TestS5LingerDrain opens in linger mode with wake conditions far in the
// future, commits 100 non-overlapping transactions, then explicitly
// stops autosync and expects a fully drained journal directory.
func TestS5LingerDrain(t *testing.T) {
	path := seedDataFile(t, 1<<20)
	h, err := Open(path, WithAutosync(time.Hour, 1<<30))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	for i := 0; i < 100; i++ {
		txn := h.NewTransaction()
		if err := txn.AddWrite(int64(i*64), []byte("payload!")); err != nil {
			t.Fatalf("AddWrite: %v", err)
		}
		if err := txn.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	if err := h.AutosyncStop(); err != nil {
		t.Fatalf("AutosyncStop: %v", err)
	}

	status, err := Stat(h)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if status.AutosyncRunning {
		t.Fatal("expected autosync to be stopped")
	}

	report, err := h.Fsck(false)
	if err != nil {
		t.Fatalf("Fsck: %v", err)
	}
	if report.Total != 0 {
		t.Fatalf("expected zero journal files remaining after drain, got %+v", report)
	}

	for i := 0; i < 100; i++ {
		got := make([]byte, 8)
		if _, err := h.Pread(got, int64(i*64)); err != nil {
			t.Fatalf("Pread %d: %v", i, err)
		}
		if string(got) != "payload!" {
			t.Fatalf("entry %d: expected payload, got %q", i, got)
		}
	}
}

// TestS6ReadThenWriteSameTransaction checks that a read added before a
// write in the same transaction observes pre-transaction bytes, while a
// pread issued after commit observes the write.
func TestS6ReadThenWriteSameTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	txn := h.NewTransaction()
	buf := make([]byte, 5)
	if err := txn.AddRead(0, buf); err != nil {
		t.Fatalf("AddRead: %v", err)
	}
	if err := txn.AddWrite(0, []byte("world")); err != nil {
		t.Fatalf("AddWrite: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if string(buf) != "hello" {
		t.Fatalf("expected read buffer to observe pre-transaction bytes, got %q", buf)
	}

	got := make([]byte, 5)
	if _, err := h.Pread(got, 0); err != nil {
		t.Fatalf("Pread: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("expected post-commit read to observe world, got %q", got)
	}
}

// TestMonotonicIdentifiersAcrossReopen commits a transaction, closes the
// handle, reopens it, and checks the next allocated identifier exceeds
// every identifier ever persisted.
func TestMonotonicIdentifiersAcrossReopen(t *testing.T) {
	path := seedDataFile(t, 4096)

	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	txn := h.NewTransaction()
	txn.AddWrite(0, []byte("abcd"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	firstID := txn.id
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()

	txn2 := h2.NewTransaction()
	txn2.AddWrite(8, []byte("efgh"))
	if err := txn2.Commit(); err != nil {
		t.Fatalf("Commit2: %v", err)
	}
	if txn2.id <= firstID {
		t.Fatalf("expected second identifier %d to exceed first %d", txn2.id, firstID)
	}
}

// TestIdempotentFsck checks that running Fsck twice in a row after
// recovery produces applied=0 on the second pass.
func TestIdempotentFsck(t *testing.T) {
	path := seedDataFile(t, 4096)

	dir, err := journal.Open(journal.DirFor(path), true)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	id, err := dir.AllocateID()
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	f, err := dir.Allocate(id)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	ops := []journal.OpDescriptor{{Offset: 0, Length: 4}}
	if err := dir.WriteRecord(f, id, 0, ops, [][]byte{[]byte("ABCD")}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	f.Close()

	if _, err := Fsck(path, false); err != nil {
		t.Fatalf("first Fsck: %v", err)
	}
	report, err := Fsck(path, false)
	if err != nil {
		t.Fatalf("second Fsck: %v", err)
	}
	if report.Applied != 0 {
		t.Fatalf("expected idempotent second pass, got %+v", report)
	}
}
