package libjio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jawnsy/Alien-Libjio/journal"
	"github.com/jawnsy/Alien-Libjio/lockmgr"
	"github.com/jawnsy/Alien-Libjio/platform"
)

type txnState int

const (
	stateBuilding txnState = iota
	stateStaged
	stateCommitting
	stateApplied
	stateReleased
	stateAborted
)

type opKind int

const (
	opWrite opKind = iota
	opRead
)

// txOp is the tagged operation variant spec.md §9 describes: a write
// carries its own payload, a read carries the caller's destination
// buffer to be filled during commit's resolve-reads step.
type txOp struct {
	kind   opKind
	offset int64
	buf    []byte
}

// Transaction is an ordered collection of read and write operations
// accumulated while BUILDING, then atomically applied to its handle's
// data file on Commit. Not safe for concurrent use by multiple
// goroutines building the same transaction; Commit itself is safe to
// call concurrently across different transactions on the same handle.
type Transaction struct {
	mu sync.Mutex

	handle *Handle
	id     journal.ID
	ops    []txOp
	state  txnState

	journalPath string
}

// AddWrite appends a write operation: payload is copied, so the caller
// may reuse or discard its buffer immediately after this call returns.
func (t *Transaction) AddWrite(offset int64, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateBuilding {
		return newError("Transaction.AddWrite", "", KindInvalidArgument, fmt.Errorf("transaction is not in BUILDING state"))
	}
	if offset < 0 {
		return newError("Transaction.AddWrite", "", KindInvalidArgument, fmt.Errorf("negative offset"))
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	t.ops = append(t.ops, txOp{kind: opWrite, offset: offset, buf: buf})
	return nil
}

// AddRead appends a read operation: dst is filled in place during
// Commit, observing the data file's state prior to any of this
// transaction's own writes, regardless of where the read was added
// relative to them.
func (t *Transaction) AddRead(offset int64, dst []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateBuilding {
		return newError("Transaction.AddRead", "", KindInvalidArgument, fmt.Errorf("transaction is not in BUILDING state"))
	}
	if offset < 0 {
		return newError("Transaction.AddRead", "", KindInvalidArgument, fmt.Errorf("negative offset"))
	}
	t.ops = append(t.ops, txOp{kind: opRead, offset: offset, buf: dst})
	return nil
}

func (t *Transaction) setState(s txnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Commit executes the six-step commit algorithm: resolve reads under
// lock, allocate an identifier, write and fsync the durable journal
// record, apply writes to the data file, fsync/unlink (unless linger),
// release locks. Before the journal-directory fsync completes (the
// durability point), any failure aborts the transaction with no durable
// trace; after it, failures are logged and returned but never erase the
// record, so a later fsck still replays it.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.state != stateBuilding {
		t.mu.Unlock()
		return newError("Transaction.Commit", "", KindInvalidArgument, fmt.Errorf("commit called from state other than BUILDING"))
	}
	ops := append([]txOp{}, t.ops...)
	t.state = stateStaged
	t.mu.Unlock()

	h := t.handle

	ivs := make([]lockmgr.Interval, len(ops))
	for i, op := range ops {
		ivs[i] = lockmgr.Interval{Start: op.offset, Length: int64(len(op.buf))}
	}

	if err := h.locks.Lock(ivs); err != nil {
		t.setState(stateAborted)
		h.metrics.IncAborts()
		return err
	}
	defer h.locks.Unlock(ivs)

	t.setState(stateCommitting)

	// Step 1: resolve reads under lock, before any of this transaction's
	// writes reach the data file.
	for _, op := range ops {
		if op.kind != opRead {
			continue
		}
		if _, err := platform.PreadFull(h.dataFile, op.buf, op.offset); err != nil && err != io.EOF {
			t.setState(stateAborted)
			h.metrics.IncAborts()
			return err
		}
	}

	// Step 2: allocate a monotonic, unique identifier.
	id, err := h.dir.AllocateID()
	if err != nil {
		t.setState(stateAborted)
		h.metrics.IncAborts()
		return err
	}
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
	h.registerTxn(t)
	defer h.unregisterTxn(t)

	var writeOps []journal.OpDescriptor
	var payloads [][]byte
	var totalBytes int
	for _, op := range ops {
		if op.kind != opWrite {
			continue
		}
		writeOps = append(writeOps, journal.OpDescriptor{Offset: op.offset, Length: uint32(len(op.buf))})
		payloads = append(payloads, op.buf)
		totalBytes += len(op.buf)
	}

	// Step 3: the durability point. Once WriteRecord's directory fsync
	// returns, this transaction survives a crash regardless of what
	// happens next.
	f, err := h.dir.Allocate(id)
	if err != nil {
		t.setState(stateAborted)
		h.metrics.IncAborts()
		return err
	}
	if err := h.dir.WriteRecord(f, id, 0, writeOps, payloads); err != nil {
		f.Close()
		_ = h.dir.Remove(h.dir.PathFor(id))
		t.setState(stateAborted)
		h.metrics.IncAborts()
		return err
	}
	if err := f.Close(); err != nil {
		t.setState(stateAborted)
		h.metrics.IncAborts()
		return platform.Wrap("Transaction.Commit", h.dir.PathFor(id), err)
	}
	t.journalPath = h.dir.PathFor(id)

	h.logger.Debug("transaction durable",
		zap.Uint32("id", uint32(id)), zap.Int("writes", len(writeOps)), zap.Int("bytes", totalBytes))
	h.metrics.AddBytesJournaled(totalBytes)

	// Step 4: apply writes to the data file.
	for _, op := range ops {
		if op.kind != opWrite {
			continue
		}
		if _, err := platform.PwriteFull(h.dataFile, op.buf, op.offset); err != nil {
			h.logger.Warn("commit: data-file write failed after durability; record remains for recovery",
				zap.Uint32("id", uint32(id)), zap.Error(err))
			t.setState(stateApplied)
			return err
		}
	}

	// Step 5: apply-complete bookkeeping, deferred to autosync in linger
	// mode, performed synchronously otherwise.
	if h.linger {
		h.mu.Lock()
		w := h.sync
		h.mu.Unlock()
		if w != nil {
			w.Enqueue(t.journalPath, int64(totalBytes))
		}
	} else {
		fsyncStart := time.Now()
		err := platform.Fsync(h.dataFile)
		h.metrics.ObserveFsync(time.Since(fsyncStart).Seconds())
		if err != nil {
			h.logger.Warn("commit: data-file fsync failed after durability; record remains for recovery",
				zap.Uint32("id", uint32(id)), zap.Error(err))
			t.setState(stateApplied)
			return err
		}
		if err := h.dir.Remove(t.journalPath); err != nil {
			h.logger.Warn("commit: journal removal failed after apply; record remains for recovery",
				zap.Uint32("id", uint32(id)), zap.Error(err))
			t.setState(stateApplied)
			return err
		}
	}

	t.setState(stateReleased)
	h.metrics.IncCommits()
	return nil
}
