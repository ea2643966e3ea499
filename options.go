package libjio

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jawnsy/Alien-Libjio/metrics"
)

// OpenOptions configures a call to Open. Gathered through functional
// options the same way the teacher's engine.Config / DefaultConfig /
// ValidateBasic triple works, adapted from consensus timeouts to
// journaling parameters.
type OpenOptions struct {
	// Flags and Perm are passed through to os.OpenFile for the data file.
	Flags int
	Perm  os.FileMode

	// Linger defers data-file fsync and journal removal to the autosync
	// worker (spec.md §4.6). Set implicitly by WithAutosync.
	Linger bool

	// AutosyncInterval and AutosyncThreshold are the two wake conditions
	// for the autosync worker started when Linger is set.
	AutosyncInterval  time.Duration
	AutosyncThreshold int64

	Logger  *zap.Logger
	Metrics *metrics.Set
}

// DefaultOpenOptions returns the options Open uses absent any OpenOption.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		Flags:             os.O_RDWR | os.O_CREATE,
		Perm:              0644,
		AutosyncInterval:  5 * time.Second,
		AutosyncThreshold: 4 << 20,
	}
}

// ValidateBasic rejects an option combination that can never make
// progress: linger mode with no wake condition configured would enqueue
// work that nothing drains until the autosync worker is stopped.
func (o OpenOptions) ValidateBasic() error {
	if o.Linger && o.AutosyncInterval <= 0 && o.AutosyncThreshold <= 0 {
		return newError("libjio.Open", "", KindInvalidArgument,
			fmt.Errorf("linger mode requires a positive autosync interval or byte threshold"))
	}
	return nil
}

// OpenOption mutates an OpenOptions during Open.
type OpenOption func(*OpenOptions)

// WithFlags overrides the os.OpenFile flags used for the data file.
func WithFlags(flags int) OpenOption {
	return func(o *OpenOptions) { o.Flags = flags }
}

// WithPerm overrides the permission bits used when creating the data file.
func WithPerm(perm os.FileMode) OpenOption {
	return func(o *OpenOptions) { o.Perm = perm }
}

// WithLinger enables linger mode with the default wake conditions.
func WithLinger() OpenOption {
	return func(o *OpenOptions) { o.Linger = true }
}

// WithAutosync enables linger mode and starts the autosync worker with
// the given periodic interval and byte threshold.
func WithAutosync(interval time.Duration, thresholdBytes int64) OpenOption {
	return func(o *OpenOptions) {
		o.Linger = true
		o.AutosyncInterval = interval
		o.AutosyncThreshold = thresholdBytes
	}
}

// WithLogger supplies a structured logger for commit, recovery, and
// autosync events. Absent this option, a no-op logger is used.
func WithLogger(l *zap.Logger) OpenOption {
	return func(o *OpenOptions) { o.Logger = l }
}

// WithMetrics supplies a metrics.Set for operational counters. Absent
// this option, metrics calls are no-ops.
func WithMetrics(m *metrics.Set) OpenOption {
	return func(o *OpenOptions) { o.Metrics = m }
}
