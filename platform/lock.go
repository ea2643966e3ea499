package platform

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// LockRange acquires a blocking, exclusive, whole-range advisory lock on
// [start, start+length) of f's underlying file, via fcntl(F_SETLKW). It
// blocks until no other process holds a conflicting lock on the range.
// Locks this process already holds never conflict with it: fcntl record
// locks belong to the process, so re-locking an interval this process
// holds succeeds at once. EINTR is retried internally.
func LockRange(f *os.File, start, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(unixSeekSet),
		Start:  start,
		Len:    length,
	}
	for {
		err := unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &lk)
		if err == nil {
			return nil
		}
		if err == syscall.EINTR {
			continue
		}
		return Wrap("lockrange", f.Name(), err)
	}
}

// UnlockRange releases exactly the interval previously acquired with
// LockRange.
func UnlockRange(f *os.File, start, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(unixSeekSet),
		Start:  start,
		Len:    length,
	}
	for {
		err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
		if err == nil {
			return nil
		}
		if err == syscall.EINTR {
			continue
		}
		return Wrap("unlockrange", f.Name(), err)
	}
}

const unixSeekSet = 0
