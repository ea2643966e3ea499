// Package fsck implements the recovery pass spec.md §4.7 describes:
// scan the journal directory in identifier order, replay well-formed
// records forward onto the data file, classify and optionally clean up
// broken records, and restore the persisted next-identifier counter.
// The scan-and-replay shape generalizes the teacher's
// wal.OpenWALForReading / multiSegmentReader sequential-replay idiom from
// "read every message in a segment" to "apply every write in a record".
package fsck

import (
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jawnsy/Alien-Libjio/journal"
	"github.com/jawnsy/Alien-Libjio/metrics"
	"github.com/jawnsy/Alien-Libjio/platform"
)

// ErrNoJournal is the distinguished status spec.md §6.1 requires when the
// journal directory does not exist.
var ErrNoJournal = errors.New("fsck: journal directory does not exist")

// Report is the outcome of one fsck pass, per spec.md §4.7/§6.1.
type Report struct {
	Total      int
	Applied    int
	Broken     int
	Reapplied  int
	Cleaned    int
}

// Options controls one Run invocation.
type Options struct {
	// Cleanup removes broken records instead of leaving them in place.
	Cleanup bool
	Logger  *zap.Logger
	Metrics *metrics.Set
}

// Run scans journalDir, replays every well-formed record onto the file
// at dataPath, classifies and (if opts.Cleanup) removes broken records,
// and brings the persisted next-identifier up to date. Idempotent: a
// second Run immediately after a clean one reports Applied == 0
// (Testable Property 2).
func Run(journalDir, dataPath string, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := os.Stat(journalDir); os.IsNotExist(err) {
		return Report{}, ErrNoJournal
	} else if err != nil {
		return Report{}, platform.Wrap("fsck.Run", journalDir, err)
	}

	dir := &journal.Dir{Path: journalDir, Metrics: opts.Metrics}
	ids, err := dir.Scan()
	if err != nil {
		return Report{}, err
	}

	opts.Metrics.IncFsckRun()

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return Report{}, platform.Wrap("fsck.Run", dataPath, err)
	}
	defer dataFile.Close()

	var report Report
	var maxSeen journal.ID

	for _, id := range ids {
		report.Total++
		if id > maxSeen {
			maxSeen = id
		}

		path := dir.PathFor(id)
		rec, err := journal.ReadRecord(path)
		if err != nil {
			report.Broken++
			opts.Metrics.IncFsckBroken()
			logger.Warn("fsck: broken journal record",
				zap.String("path", path), zap.Error(err))
			if opts.Cleanup {
				if rerr := dir.Remove(path); rerr != nil {
					return report, rerr
				}
				report.Cleaned++
			}
			continue
		}

		allPresent, err := applyRecord(dataFile, rec)
		if err != nil {
			return report, err
		}
		if allPresent {
			report.Reapplied++
		}

		fsyncStart := time.Now()
		err = platform.Fsync(dataFile)
		opts.Metrics.ObserveFsync(time.Since(fsyncStart).Seconds())
		if err != nil {
			return report, err
		}
		if err := dir.Remove(path); err != nil {
			return report, err
		}
		report.Applied++
		opts.Metrics.IncFsckApplied()
	}

	if maxSeen > 0 {
		if err := dir.BumpNextID(maxSeen); err != nil {
			return report, err
		}
	}

	return report, nil
}

// applyRecord writes every operation in rec to f at its offset, in
// descriptor order, and reports whether the data file already held
// byte-identical content for every op before the write (so callers can
// tell a true no-op replay from one that changed bytes — Testable
// Property 2's "reapplied-identical" count).
func applyRecord(f *os.File, rec *journal.Record) (identical bool, err error) {
	identical = true
	for i, op := range rec.Ops {
		existing := make([]byte, op.Length)
		n, rerr := platform.PreadFull(f, existing, op.Offset)
		sameAlready := rerr == nil && n == int(op.Length) && string(existing) == string(rec.Payloads[i])
		if !sameAlready {
			identical = false
		}
		if _, err := platform.PwriteFull(f, rec.Payloads[i], op.Offset); err != nil {
			return false, err
		}
	}
	return identical, nil
}
