package mount

import (
	"syscall"

	"github.com/relvacode/drivefs/drive"
)

// ErrorKind is the dispatcher-facing error taxonomy. It is
// deliberately richer than drive.ErrorKind: it also covers tree-invariant
// violations (not_a_directory, is_a_directory, exists, not_empty) that never
// touch the adapter at all.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindNotADirectory
	KindIsADirectory
	KindExists
	KindNotEmpty
	KindPermissionDenied
	KindIOError
	KindQuotaExceeded
	KindNotSupported
)

// Error is returned by every dispatcher-facing mount operation.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return "not found"
	case KindNotADirectory:
		return "not a directory"
	case KindIsADirectory:
		return "is a directory"
	case KindExists:
		return "already exists"
	case KindNotEmpty:
		return "directory not empty"
	case KindPermissionDenied:
		return "permission denied"
	case KindIOError:
		return "io error"
	case KindQuotaExceeded:
		return "quota exceeded"
	default:
		return "not supported"
	}
}

// Errno translates an ErrorKind to the POSIX errno the kernel boundary
// reports.
func (e *Error) Errno() syscall.Errno {
	switch e.Kind {
	case KindNotFound:
		return syscall.ENOENT
	case KindNotADirectory:
		return syscall.ENOTDIR
	case KindIsADirectory:
		return syscall.EISDIR
	case KindExists:
		return syscall.EEXIST
	case KindNotEmpty:
		return syscall.ENOTEMPTY
	case KindPermissionDenied:
		return syscall.EACCES
	case KindIOError:
		return syscall.EIO
	case KindQuotaExceeded:
		return syscall.EDQUOT
	default:
		return syscall.ENOSYS
	}
}

func newErr(kind ErrorKind) *Error { return &Error{Kind: kind} }

// ErrNotFound, et al. are convenience constructors for the error taxonomy
// above, used throughout the dispatcher and tree.
var (
	ErrNotFound         = newErr(KindNotFound)
	ErrNotADirectory    = newErr(KindNotADirectory)
	ErrIsADirectory     = newErr(KindIsADirectory)
	ErrExists           = newErr(KindExists)
	ErrNotEmpty         = newErr(KindNotEmpty)
	ErrPermissionDenied = newErr(KindPermissionDenied)
	ErrIO               = newErr(KindIOError)
	ErrQuotaExceeded    = newErr(KindQuotaExceeded)
	ErrNotSupported     = newErr(KindNotSupported)
)

// fromAdapterErr translates a drive.Adapter failure into the dispatcher's
// error taxonomy. Adapter-transient failures are assumed already retried to
// exhaustion by the adapter itself, so anything that
// isn't auth/quota/not_found/permission_denied collapses to io_error.
func fromAdapterErr(err error) *Error {
	if err == nil {
		return nil
	}
	switch drive.KindOf(err) {
	case drive.KindNotFound:
		return ErrNotFound
	case drive.KindPermissionDenied:
		return ErrPermissionDenied
	case drive.KindQuotaExceeded:
		return ErrQuotaExceeded
	default: // KindTransport, KindAuth
		return ErrIO
	}
}

// ToErrno converts any error coming out of the dispatcher to a
// syscall.Errno, defaulting unrecognized errors to EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if me, ok := err.(*Error); ok {
		return me.Errno()
	}
	return syscall.EIO
}
