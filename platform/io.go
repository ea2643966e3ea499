// Package platform provides the POSIX file primitives the rest of this
// module is built on: retrying positional read/write, directory fsync,
// atomic same-directory rename, and byte-range advisory locks. Every
// blocking syscall here restarts on EINTR internally, per spec.md §5 —
// no caller above this package ever sees an interrupted short I/O.
package platform

import (
	"io"
	"os"
	"syscall"
)

// PreadFull reads len(buf) bytes from f at off, retrying short reads until
// either the buffer is full, EOF is reached, or a non-recoverable error
// occurs. On EOF it returns the partial count and io.EOF, matching
// spec.md §4.1 ("short reads terminate the loop and return the partial
// count").
func PreadFull(f *os.File, buf []byte, off int64) (int, error) {
	var n int
	for n < len(buf) {
		k, err := f.ReadAt(buf[n:], off+int64(n))
		n += k
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			if err == io.EOF {
				return n, io.EOF
			}
			return n, Wrap("pread", f.Name(), err)
		}
		if k == 0 {
			return n, io.EOF
		}
	}
	return n, nil
}

// PwriteFull writes all of buf to f at off, retrying on short writes until
// the full count is transferred or a non-recoverable error occurs. Short
// writes are always retried, per spec.md §4.1.
func PwriteFull(f *os.File, buf []byte, off int64) (int, error) {
	var n int
	for n < len(buf) {
		k, err := f.WriteAt(buf[n:], off+int64(n))
		n += k
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return n, Wrap("pwrite", f.Name(), err)
		}
		if k == 0 && n < len(buf) {
			// Non-advancing write without an error: treat as transient
			// and retry.
			continue
		}
	}
	return n, nil
}
