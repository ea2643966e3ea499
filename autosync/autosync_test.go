package autosync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestThresholdWakeDiscardsPending(t *testing.T) {
	var syncCount int32
	var discarded []string
	var mu sync.Mutex

	w := New(Callbacks{
		SyncData: func() error {
			atomic.AddInt32(&syncCount, 1)
			return nil
		},
		Discard: func(paths []string) error {
			mu.Lock()
			discarded = append(discarded, paths...)
			mu.Unlock()
			return nil
		},
	}, 0, 10, nil, nil)

	w.Start()
	defer w.Stop()

	w.Enqueue("a", 5)
	w.Enqueue("b", 6) // crosses threshold of 10

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(discarded)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(discarded) != 2 {
		t.Fatalf("expected 2 discarded paths, got %v", discarded)
	}
	if atomic.LoadInt32(&syncCount) == 0 {
		t.Fatal("expected at least one data-file sync")
	}
}

func TestStopDrainsSynchronously(t *testing.T) {
	var discarded []string

	w := New(Callbacks{
		SyncData: func() error { return nil },
		Discard: func(paths []string) error {
			discarded = append(discarded, paths...)
			return nil
		},
	}, time.Hour, 0, nil, nil) // no periodic/threshold wake during the test

	w.Start()
	w.Enqueue("x", 1)
	w.Enqueue("y", 1)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(discarded) != 2 {
		t.Fatalf("expected Stop to drain both entries, got %v", discarded)
	}
}

func TestSyncFailureIsReportedAndRequeued(t *testing.T) {
	w := New(Callbacks{
		SyncData: func() error { return errBoom },
		Discard:  func(paths []string) error { return nil },
	}, time.Hour, 0, nil, nil)

	w.Start()
	w.Enqueue("x", 1)

	if err := w.Stop(); err == nil {
		t.Fatal("expected Stop to surface the sync failure")
	}
	if w.PendingCount() != 1 {
		t.Fatalf("expected failed entry to be requeued, pending=%d", w.PendingCount())
	}
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }
