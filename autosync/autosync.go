// Package autosync implements the background linger-mode flusher spec.md
// §4.6 describes: a worker that periodically (every T seconds) or once
// more than B pending bytes have accumulated issues one data-file fsync followed by the
// unlink of every journal file accumulated since the last wake and a
// single journal-directory fsync. The mutex-guarded Start/Stop pair
// around one dedicated goroutine is the teacher's engine/timeout.go
// TimeoutTicker shape, generalized from a timeout-delivery channel to a
// queue-drain-on-wake body.
package autosync

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jawnsy/Alien-Libjio/metrics"
)

// Callbacks are the two effects a wake performs, injected so Worker can
// be unit-tested without touching real files.
type Callbacks struct {
	// SyncData fsyncs the data file. Called exactly once per wake, before
	// any Discard call, per spec.md §4.6's ordering rule.
	SyncData func() error
	// Discard unlinks every path in paths and fsyncs the journal
	// directory once. Called exactly once per wake, after SyncData
	// succeeds.
	Discard func(paths []string) error
}

// Worker is the handle-local autosync goroutine. One Worker is owned by
// each linger-mode handle.
type Worker struct {
	mu             sync.Mutex
	cb             Callbacks
	interval       time.Duration
	thresholdBytes int64

	pending      []string
	pendingBytes int64

	running bool
	wakeCh  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastErr atomic.Value // errBox

	logger  *zap.Logger
	metrics *metrics.Set
}

// New creates a Worker. interval <= 0 disables the periodic wake (the
// worker then only wakes on the byte threshold or on Stop/Flush).
// thresholdBytes <= 0 disables the threshold wake.
func New(cb Callbacks, interval time.Duration, thresholdBytes int64, logger *zap.Logger, m *metrics.Set) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cb:             cb,
		interval:       interval,
		thresholdBytes: thresholdBytes,
		wakeCh:         make(chan struct{}, 1),
		logger:         logger,
		metrics:        m,
	}
}

// Start launches the dedicated background goroutine. Calling Start on an
// already-running Worker is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run()
}

// Enqueue records path (bytes long) as pending application, waking the
// worker immediately if the accumulated pending bytes now exceed the
// configured threshold.
func (w *Worker) Enqueue(path string, bytes int64) {
	w.mu.Lock()
	w.pending = append(w.pending, path)
	w.pendingBytes += bytes
	crossed := w.thresholdBytes > 0 && w.pendingBytes > w.thresholdBytes
	w.mu.Unlock()

	if crossed {
		select {
		case w.wakeCh <- struct{}{}:
		default:
		}
	}
}

// errBox lets a possibly-nil error be stored in an atomic.Value, which
// otherwise panics on a bare nil (and on inconsistent concrete types).
type errBox struct{ err error }

// Err returns the last error an autosync wake produced, or nil. It is
// cleared by a subsequent successful wake.
func (w *Worker) Err() error {
	if v := w.lastErr.Load(); v != nil {
		return v.(errBox).err
	}
	return nil
}

// Stop drains the pending queue synchronously (one final fsync + unlinks)
// before returning, per spec.md §4.6. Stopping an already-stopped Worker
// is a no-op.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	return w.Err()
}

// Flush forces an immediate synchronous wake without stopping the
// worker, draining whatever is currently pending.
func (w *Worker) Flush() error {
	return w.wake()
}

func (w *Worker) run() {
	defer close(w.doneCh)

	var timerCh <-chan time.Time
	var ticker *time.Ticker
	if w.interval > 0 {
		ticker = time.NewTicker(w.interval)
		defer ticker.Stop()
		timerCh = ticker.C
	}

	for {
		select {
		case <-w.stopCh:
			if err := w.wake(); err != nil {
				w.logger.Warn("autosync: final drain failed", zap.Error(err))
			}
			return
		case <-timerCh:
			if err := w.wake(); err != nil {
				w.logger.Warn("autosync: periodic wake failed", zap.Error(err))
			}
		case <-w.wakeCh:
			if err := w.wake(); err != nil {
				w.logger.Warn("autosync: threshold wake failed", zap.Error(err))
			}
		}
	}
}

// wake performs one SyncData+Discard cycle over whatever is currently
// pending, recording any failure in lastErr per spec.md §7's async-error
// propagation rule.
func (w *Worker) wake() error {
	w.mu.Lock()
	paths := w.pending
	w.pending = nil
	w.pendingBytes = 0
	w.mu.Unlock()

	if len(paths) == 0 {
		return nil
	}

	if err := w.cb.SyncData(); err != nil {
		w.requeue(paths)
		w.lastErr.Store(errBox{err})
		return err
	}
	if err := w.cb.Discard(paths); err != nil {
		w.lastErr.Store(errBox{err})
		return err
	}
	w.lastErr.Store(errBox{})
	return nil
}

func (w *Worker) requeue(paths []string) {
	w.mu.Lock()
	w.pending = append(paths, w.pending...)
	w.mu.Unlock()
}

// ClearErr discards any previously recorded wake failure. Used by a
// caller that has decided a stale autosync error should no longer block
// Close, typically after separately verifying the affected journal
// records are still present for a future fsck to replay.
func (w *Worker) ClearErr() {
	w.lastErr.Store(errBox{})
}

// PendingCount reports how many journal files are currently queued for
// the next wake — useful operational visibility, not part of the wake
// logic itself.
func (w *Worker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
