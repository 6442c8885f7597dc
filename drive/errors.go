package drive

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the failure modes an Adapter call may report.
// The core never sees anything finer-grained than this.
type ErrorKind int

const (
	// KindTransport covers network/transport failures, after the
	// adapter's own bounded retries are exhausted.
	KindTransport ErrorKind = iota
	KindAuth
	KindQuotaExceeded
	KindNotFound
	KindPermissionDenied
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth_error"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "transport_error"
	}
}

// Error is the error type every Adapter method returns on failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with the given kind.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to KindTransport for
// anything that isn't a *drive.Error (treated as an opaque transport
// failure, which the dispatcher maps to io_error).
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransport
}
