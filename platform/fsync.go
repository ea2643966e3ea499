package platform

import (
	"os"
	"syscall"
)

// Fsync flushes f's data and metadata to stable storage, retrying on
// EINTR. Used after every journal write, data-file write, and directory
// mutation that spec.md requires to be durable before proceeding.
func Fsync(f *os.File) error {
	for {
		err := f.Sync()
		if err == nil {
			return nil
		}
		if err == syscall.EINTR {
			continue
		}
		return Wrap("fsync", f.Name(), err)
	}
}

// FsyncDir opens dir and fsyncs it, so that directory-entry mutations
// (create, rename, unlink) performed against it are durable. This is the
// "journal directory fsync" spec.md's durability point depends on.
func FsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return Wrap("fsyncdir", dir, err)
	}
	defer f.Close()
	return Fsync(f)
}

// Rename atomically renames oldpath to newpath; both must live in the
// same directory for the rename to be atomic on a POSIX filesystem. The
// caller is responsible for fsyncing the containing directory afterward
// if the rename must be durable.
func Rename(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return Wrap("rename", oldpath, err)
	}
	return nil
}
