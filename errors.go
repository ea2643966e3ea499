// Package libjio is a user-space journaling library: writes to a regular
// file go through a Handle, which guarantees that each committed
// transaction is either fully applied to the file or leaves it untouched
// across a crash, and that recovery replays committed-but-unapplied
// transactions in commit order.
package libjio

import "github.com/jawnsy/Alien-Libjio/platform"

// Kind classifies the cause of a *Error, the same taxonomy every
// fallible operation in this module surfaces through.
type Kind = platform.Kind

const (
	KindOther           = platform.KindOther
	KindTransientIO     = platform.KindTransientIO
	KindNoSpace         = platform.KindNoSpace
	KindPermission      = platform.KindPermission
	KindNotFound        = platform.KindNotFound
	KindInvalidArgument = platform.KindInvalidArgument
	KindInterrupted     = platform.KindInterrupted
	KindExists          = platform.KindExists
	KindCorruptJournal  = platform.KindCorruptJournal
	KindBusy            = platform.KindBusy
)

// Error is returned by every fallible exported function in this package.
// errors.Is/errors.As work against both *Error itself and its Kind (via
// platform.AsSentinel).
type Error = platform.Error

func newError(op, path string, kind Kind, cause error) *Error {
	return platform.NewError(op, path, kind, cause)
}
