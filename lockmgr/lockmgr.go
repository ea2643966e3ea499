// Package lockmgr implements the range-locking manager spec.md §4.3
// describes: a process-local interval table gates intra-process callers,
// and once an interval is granted locally the same interval is acquired
// on a shared lockfile via the kernel's byte-range lock primitive, which
// extends the same serialization across every process sharing the
// journaled file. The concurrency shape (mutex-guarded state, a condition
// variable in place of an explicit waiter queue) generalizes the
// teacher's mutex-guarded worker state (engine/timeout.go's
// TimeoutTicker) to an interval table.
package lockmgr

import (
	"os"
	"sort"
	"sync"

	"github.com/jawnsy/Alien-Libjio/platform"
)

// Interval is a half-open byte range [Start, Start+Length).
type Interval struct {
	Start  int64
	Length int64
}

func (iv Interval) end() int64 { return iv.Start + iv.Length }

func overlaps(a, b Interval) bool {
	return a.Start < b.end() && b.Start < a.end()
}

// Manager is a process-local range-lock table layered over kernel
// byte-range locks on lockFile. One Manager is owned by each handle and
// shared by every transaction and every pread/pwrite call on that handle.
type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	held     []Interval
	lockFile *os.File
}

// New creates a Manager whose cross-process locks are taken on lockFile.
// lockFile's descriptor is owned by the caller for as long as the Manager
// is in use.
func New(lockFile *os.File) *Manager {
	m := &Manager{lockFile: lockFile}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock blocks until none of ivs overlaps any interval currently held by
// any caller (intra-process), then acquires the same intervals on the
// kernel lockfile (cross-process), in ascending start-offset order, per
// spec.md §4.3's deadlock-avoidance rule. Callers must pass the full set
// of intervals touched by a transaction in one call.
func (m *Manager) Lock(ivs []Interval) error {
	sorted := append([]Interval{}, ivs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	m.mu.Lock()
	for m.anyOverlapsHeldLocked(sorted) {
		m.cond.Wait()
	}
	m.held = append(m.held, sorted...)
	m.mu.Unlock()

	for _, iv := range sorted {
		if err := platform.LockRange(m.lockFile, iv.Start, iv.Length); err != nil {
			// Roll back everything acquired so far, both kernel and
			// process-local, before surfacing the error.
			m.unlockKernelBestEffort(sorted)
			m.releaseLocal(sorted)
			return err
		}
	}
	return nil
}

// Unlock releases exactly the interval set previously acquired with
// Lock, in the inverse (descending start-offset) order on the kernel
// lockfile, then removes them from the local table and wakes waiters.
func (m *Manager) Unlock(ivs []Interval) error {
	sorted := append([]Interval{}, ivs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var firstErr error
	for i := len(sorted) - 1; i >= 0; i-- {
		iv := sorted[i]
		if err := platform.UnlockRange(m.lockFile, iv.Start, iv.Length); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.releaseLocal(sorted)
	return firstErr
}

func (m *Manager) unlockKernelBestEffort(ivs []Interval) {
	for i := len(ivs) - 1; i >= 0; i-- {
		_ = platform.UnlockRange(m.lockFile, ivs[i].Start, ivs[i].Length)
	}
}

func (m *Manager) releaseLocal(ivs []Interval) {
	m.mu.Lock()
	for _, iv := range ivs {
		for i, h := range m.held {
			if h == iv {
				m.held = append(m.held[:i], m.held[i+1:]...)
				break
			}
		}
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) anyOverlapsHeldLocked(ivs []Interval) bool {
	for _, iv := range ivs {
		for _, h := range m.held {
			if overlaps(iv, h) {
				return true
			}
		}
	}
	return false
}
