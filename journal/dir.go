package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jawnsy/Alien-Libjio/metrics"
	"github.com/jawnsy/Alien-Libjio/platform"
)

const (
	// Suffix is the fixed directory-name suffix spec.md §6.2 specifies.
	Suffix = ".jio"

	nextIDFileName  = "next-id"
	lockFileName    = "lock"
	idWidth         = 9 // matches the "000000001"-style names in spec.md §6.2
	filePerm        = 0600
	dirPerm         = 0700
)

// Dir represents an open journal directory: the sibling directory beside
// a data file that holds per-transaction journal files, the lockfile, and
// the persisted next-identifier counter. Shared by every transaction on a
// handle, so the next-id counter's load-modify-store is guarded by mu the
// same way the teacher guards its shared WAL state with w.mu
// (wal/file_wal.go) — spec.md §5 requires concurrent commits on disjoint
// ranges to proceed with no handle-wide lock, and AllocateID is the one
// piece of commit state actually shared across them.
type Dir struct {
	Path string

	// Metrics, if set, receives fsync latency observations for every
	// fsync this Dir performs on the journal, the journal directory, and
	// the next-id file.
	Metrics *metrics.Set

	mu sync.Mutex
}

// DirFor derives the journal directory path for a given data file path,
// per spec.md §6.2 (`<datafile>.jio/`).
func DirFor(dataPath string) string {
	return dataPath + Suffix
}

// Open opens an existing journal directory, or creates one (plus its
// lockfile and an initial next-id file) if create is true and it doesn't
// exist yet. It does not run recovery — callers run fsck separately.
func Open(path string, create bool) (*Dir, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, platform.NewError("journal.Open", path, platform.KindExists, fmt.Errorf("exists and is not a directory"))
		}
	case os.IsNotExist(err) && create:
		if err := os.Mkdir(path, dirPerm); err != nil {
			return nil, platform.Wrap("journal.Open", path, err)
		}
		if err := platform.FsyncDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		return nil, platform.NewError("journal.Open", path, platform.KindNotFound, err)
	default:
		return nil, platform.Wrap("journal.Open", path, err)
	}

	d := &Dir{Path: path}
	if err := d.EnsureLockfile(); err != nil {
		return nil, err
	}
	if _, err := d.LoadNextID(); err != nil {
		return nil, err
	}
	return d, nil
}

// PathFor returns the file path for a journal record with the given id,
// using the fixed-width decimal naming of spec.md §6.2.
func (d *Dir) PathFor(id ID) string {
	return filepath.Join(d.Path, fmt.Sprintf("%0*d", idWidth, uint32(id)))
}

// LockfilePath returns the path of the directory's dedicated lockfile.
func (d *Dir) LockfilePath() string {
	return filepath.Join(d.Path, lockFileName)
}

// EnsureLockfile creates the lockfile if it doesn't exist yet. Its
// content is irrelevant (spec.md §3) — only its inode is ever used, by
// the lockmgr package, as the target of kernel byte-range locks.
func (d *Dir) EnsureLockfile() error {
	f, err := os.OpenFile(d.LockfilePath(), os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return platform.Wrap("journal.EnsureLockfile", d.LockfilePath(), err)
	}
	return f.Close()
}

// OpenLockfile opens the directory's lockfile for use as a lock target.
// The returned descriptor is owned by the caller (normally the handle)
// for the lifetime of the handle.
func (d *Dir) OpenLockfile() (*os.File, error) {
	f, err := os.OpenFile(d.LockfilePath(), os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, platform.Wrap("journal.OpenLockfile", d.LockfilePath(), err)
	}
	return f, nil
}

// ParseID parses a journal file's base name back into an ID, returning
// false if name isn't a journal record name (e.g. "next-id" or "lock").
func ParseID(name string) (ID, bool) {
	if len(name) != idWidth {
		return 0, false
	}
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return ID(n), true
}

// Allocate creates a new, empty journal file named by id in a fresh,
// exclusive state, failing if it already exists (spec.md §4.4).
func (d *Dir) Allocate(id ID) (*os.File, error) {
	path := d.PathFor(id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		if os.IsExist(err) {
			return nil, platform.NewError("journal.Allocate", path, platform.KindExists, err)
		}
		return nil, platform.Wrap("journal.Allocate", path, err)
	}
	return f, nil
}

// WriteRecord serializes ops/payloads for transaction id into f (already
// open via Allocate), fsyncs f, then fsyncs the journal directory so the
// new directory entry is durable — the moment spec.md §4.5 calls the
// transaction's durability point.
func (d *Dir) WriteRecord(f *os.File, id ID, flags uint32, ops []OpDescriptor, payloads [][]byte) error {
	raw, err := Encode(id, flags, ops, payloads)
	if err != nil {
		return platform.NewError("journal.WriteRecord", f.Name(), platform.KindInvalidArgument, err)
	}
	if _, err := platform.PwriteFull(f, raw, 0); err != nil {
		return err
	}

	start := time.Now()
	err = platform.Fsync(f)
	d.observeFsync(start)
	if err != nil {
		return err
	}

	start = time.Now()
	err = platform.FsyncDir(d.Path)
	d.observeFsync(start)
	return err
}

// observeFsync records the latency of one fsync call against Metrics, a
// no-op if Metrics is nil.
func (d *Dir) observeFsync(start time.Time) {
	d.Metrics.ObserveFsync(time.Since(start).Seconds())
}

// ReadRecord reads and validates the journal file at path, returning a
// well-formed *Record or a classified *ErrCorrupt/*ErrTruncated failure.
func ReadRecord(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, platform.Wrap("journal.ReadRecord", path, err)
	}
	defer f.Close()

	raw, err := readAll(f)
	if err != nil {
		return nil, platform.Wrap("journal.ReadRecord", path, err)
	}
	return Decode(path, raw)
}

// Remove unlinks the journal file at path and fsyncs the directory, per
// spec.md §4.4 / §4.5 step 5-6.
func (d *Dir) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return platform.Wrap("journal.Remove", path, err)
	}
	start := time.Now()
	err := platform.FsyncDir(d.Path)
	d.observeFsync(start)
	return err
}

// RemoveBatch unlinks every path in paths and fsyncs the directory exactly
// once, for callers (the autosync worker) that accumulate several
// completed transactions before the single directory fsync spec.md §4.6
// requires on wake.
func (d *Dir) RemoveBatch(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return platform.Wrap("journal.RemoveBatch", p, err)
		}
	}
	start := time.Now()
	err := platform.FsyncDir(d.Path)
	d.observeFsync(start)
	return err
}

// Scan enumerates journal record files in the directory and returns their
// ids in ascending (commit) order, per spec.md §4.4.
func (d *Dir) Scan() ([]ID, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, platform.Wrap("journal.Scan", d.Path, err)
	}
	var ids []ID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LoadNextID reads the persisted next-identifier counter, initializing it
// (to one greater than the largest journal-file identifier present, or 1
// if the directory is empty) if the file doesn't exist yet. Safe to call
// concurrently with AllocateID/BumpNextID/StoreNextID on the same Dir.
func (d *Dir) LoadNextID() (ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadNextIDLocked()
}

// loadNextIDLocked is LoadNextID's body, assuming d.mu is already held.
func (d *Dir) loadNextIDLocked() (ID, error) {
	path := filepath.Join(d.Path, nextIDFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, platform.Wrap("journal.LoadNextID", path, err)
		}
		ids, serr := d.Scan()
		if serr != nil {
			return 0, serr
		}
		next := ID(1)
		for _, id := range ids {
			if id+1 > next {
				next = id + 1
			}
		}
		if err := d.storeNextIDLocked(next); err != nil {
			return 0, err
		}
		return next, nil
	}
	if len(data) < 4 {
		return 0, &ErrCorrupt{Path: path, Reason: "next-id file too short"}
	}
	return ID(binary.LittleEndian.Uint32(data[:4])), nil
}

// StoreNextID persists next atomically: write to a temp file in the same
// directory, fsync it, rename over next-id, then fsync the directory.
// Safe to call concurrently with
// LoadNextID/AllocateID/BumpNextID on the same Dir.
func (d *Dir) StoreNextID(next ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.storeNextIDLocked(next)
}

// storeNextIDLocked is StoreNextID's body, assuming d.mu is already held.
// Reusing the fixed next-id.tmp path is safe only because every caller
// reaches it with d.mu held, so no two writers ever have it open at once.
func (d *Dir) storeNextIDLocked(next ID) error {
	path := filepath.Join(d.Path, nextIDFileName)
	tmp := path + ".tmp"

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(next))

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return platform.Wrap("journal.StoreNextID", tmp, err)
	}
	if _, err := platform.PwriteFull(f, buf[:], 0); err != nil {
		f.Close()
		return err
	}
	start := time.Now()
	err = platform.Fsync(f)
	d.observeFsync(start)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return platform.Wrap("journal.StoreNextID", tmp, err)
	}
	if err := platform.Rename(tmp, path); err != nil {
		return err
	}
	start = time.Now()
	err = platform.FsyncDir(d.Path)
	d.observeFsync(start)
	return err
}

// AllocateID atomically reserves and persists the next identifier,
// returning it. Identifiers are unique across every journal file ever
// created in the directory until removed, and remain monotonic across
// open/close cycles (spec.md's Testable Property 4). The load and store
// happen under d.mu as one critical section, so two transactions calling
// AllocateID concurrently on the same handle (spec.md §5's disjoint-range
// commits, with no handle-wide lock otherwise) never observe the same
// next-id value.
func (d *Dir) AllocateID() (ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := d.loadNextIDLocked()
	if err != nil {
		return 0, err
	}
	if err := d.storeNextIDLocked(next + 1); err != nil {
		return 0, err
	}
	return next, nil
}

// BumpNextID raises the persisted next-identifier so that it exceeds
// seen, if it doesn't already. Used by fsck after a recovery pass to
// restore monotonicity (spec.md §4.7 step 3).
func (d *Dir) BumpNextID(seen ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := d.loadNextIDLocked()
	if err != nil {
		return err
	}
	if seen+1 > next {
		return d.storeNextIDLocked(seen + 1)
	}
	return nil
}
