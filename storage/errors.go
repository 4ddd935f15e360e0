package storage

import "errors"

// Kind classifies an error the way spec §7 names error kinds rather than
// Go types: callers switch on Kind, not on a type assertion tree.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindIoError
	KindCorruptData
	KindUnavailable
	KindDeadlineExceeded
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIoError:
		return "io_error"
	case KindCorruptData:
		return "corrupt_data"
	case KindUnavailable:
		return "unavailable"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "internal"
	}
}

// Error pairs a Kind with a short message, per spec §7: "a short error
// string plus the error kind."
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Msg }

func newErr(kind Kind, msg string) error { return &Error{Kind: kind, Msg: msg} }

// Sentinel errors mirroring backend.ErrMetaDoesNotExist in the teacher.
var (
	ErrNotFound     = newErr(KindNotFound, "series not found")
	ErrClosed       = newErr(KindUnavailable, "engine is closed")
	ErrInvalidInput = newErr(KindInvalidArgument, "invalid argument")
)

// ErrorKind extracts the Kind from err, defaulting to KindInternal for
// errors not produced by this package.
func ErrorKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
