// Package metrics exposes the small set of counters and histograms the
// transaction engine and fsck pass report through, following the
// prometheus usage pattern in the retrieved pack's alpacahq-marketstore
// repo. A nil *Set is always safe to call methods on — it's a no-op — so
// library use never forces a caller to bring their own Prometheus
// registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles the metrics one Handle reports through.
type Set struct {
	CommitsTotal     prometheus.Counter
	AbortsTotal      prometheus.Counter
	BytesJournaled   prometheus.Counter
	FsyncDuration    prometheus.Histogram
	FsckRunsTotal    prometheus.Counter
	FsckBrokenTotal  prometheus.Counter
	FsckAppliedTotal prometheus.Counter
}

// NewSet builds a Set and, if reg is non-nil, registers its metrics with
// it. Passing a nil Registerer yields a private, unregistered Set that's
// still fully usable — useful for tests and for callers with no interest
// in exporting metrics globally.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libjio_commits_total",
			Help: "Total number of transactions that reached the RELEASED or APPLIED (linger) state.",
		}),
		AbortsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libjio_aborts_total",
			Help: "Total number of transactions aborted before the durability point.",
		}),
		BytesJournaled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libjio_bytes_journaled_total",
			Help: "Total bytes of write payload written to journal records.",
		}),
		FsyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "libjio_fsync_seconds",
			Help:    "Latency of fsync calls on the journal, journal directory, and data file.",
			Buckets: prometheus.DefBuckets,
		}),
		FsckRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libjio_fsck_runs_total",
			Help: "Total number of fsck passes executed.",
		}),
		FsckBrokenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libjio_fsck_broken_total",
			Help: "Total number of broken journal records found across all fsck passes.",
		}),
		FsckAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libjio_fsck_applied_total",
			Help: "Total number of journal records successfully replayed across all fsck passes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.CommitsTotal, s.AbortsTotal, s.BytesJournaled, s.FsyncDuration,
			s.FsckRunsTotal, s.FsckBrokenTotal, s.FsckAppliedTotal,
		)
	}
	return s
}

func (s *Set) incCommits() {
	if s != nil {
		s.CommitsTotal.Inc()
	}
}

func (s *Set) incAborts() {
	if s != nil {
		s.AbortsTotal.Inc()
	}
}

func (s *Set) addBytesJournaled(n int) {
	if s != nil {
		s.BytesJournaled.Add(float64(n))
	}
}

func (s *Set) observeFsync(seconds float64) {
	if s != nil {
		s.FsyncDuration.Observe(seconds)
	}
}

// IncCommits, IncAborts, AddBytesJournaled and ObserveFsync are the
// exported, nil-safe entry points used by the libjio package.
func (s *Set) IncCommits()                  { s.incCommits() }
func (s *Set) IncAborts()                   { s.incAborts() }
func (s *Set) AddBytesJournaled(n int)      { s.addBytesJournaled(n) }
func (s *Set) ObserveFsync(seconds float64) { s.observeFsync(seconds) }

// IncFsckRun, IncFsckBroken, and IncFsckApplied are the nil-safe entry
// points used by the fsck package.
func (s *Set) IncFsckRun() {
	if s != nil {
		s.FsckRunsTotal.Inc()
	}
}

func (s *Set) IncFsckBroken() {
	if s != nil {
		s.FsckBrokenTotal.Inc()
	}
}

func (s *Set) IncFsckApplied() {
	if s != nil {
		s.FsckAppliedTotal.Inc()
	}
}
