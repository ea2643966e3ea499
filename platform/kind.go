package platform

import (
	"errors"
	"io/fs"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an underlying I/O failure into the taxonomy spec.md §7
// requires every fallible operation to surface.
type Kind int

const (
	KindOther Kind = iota
	KindTransientIO
	KindNoSpace
	KindPermission
	KindNotFound
	KindInvalidArgument
	KindInterrupted
	KindExists
	KindCorruptJournal
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient-io"
	case KindNoSpace:
		return "no-space"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not-found"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindInterrupted:
		return "interrupted"
	case KindExists:
		return "exists"
	case KindCorruptJournal:
		return "corrupt-journal"
	case KindBusy:
		return "busy"
	default:
		return "other"
	}
}

// Error wraps an underlying cause with the Kind taxonomy, the failing
// operation name, and (when relevant) the path involved. It satisfies the
// standard errors.Is/errors.As protocol against both itself and its Kind.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, platform.Kind(...)) work by comparing kinds, and
// lets errors.Is(err, someOtherErr) fall through to the wrapped cause.
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == k.kind
	}
	return false
}

// kindSentinel lets a bare Kind value be used as an errors.Is target via
// AsSentinel, without Kind itself needing to implement error.
type kindSentinel struct{ kind Kind }

func (kindSentinel) Error() string { return "" }

// AsSentinel turns a Kind into an error usable with errors.Is.
func AsSentinel(k Kind) error { return kindSentinel{k} }

// NewError builds a classified *Error, wrapping cause with pkg/errors so
// the original call stack is retained for diagnostics.
func NewError(op, path string, kind Kind, cause error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: pkgerrors.WithStack(cause)}
}

// Classify maps an arbitrary error from the os/syscall layer into a Kind.
// Interrupted (EINTR) is classified but callers on blocking paths are
// expected to retry internally rather than propagate it; it only reaches
// here when a caller explicitly opted out of retry.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrExist):
		return KindExists
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, syscall.ENOSPC):
		return KindNoSpace
	case errors.Is(err, syscall.EINTR):
		return KindInterrupted
	case errors.Is(err, syscall.EINVAL):
		return KindInvalidArgument
	case errors.Is(err, syscall.EIO), errors.Is(err, syscall.EAGAIN):
		return KindTransientIO
	default:
		return KindOther
	}
}

// Wrap classifies err and returns a *Error for it, or nil if err is nil.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, path, Classify(err), err)
}
