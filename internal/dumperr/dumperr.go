// Package dumperr implements the engine's error taxonomy: a small closed
// set of typed results the bus-dispatch layer converts into whatever the
// transport (here, HTTP+JSON) expects. Internally, everything is an
// explicit error return — no exceptions.
package dumperr

import "fmt"

// Kind is one of the taxonomy's closed set of error categories.
type Kind string

const (
	InvalidArgument Kind = "InvalidArgument"
	Unavailable     Kind = "Unavailable"
	QuotaExceeded   Kind = "QuotaExceeded"
	Internal        Kind = "Internal"
	FileNotFound    Kind = "FileNotFound"
	OpenFailed      Kind = "Open"
)

// Error pairs a taxonomy Kind with a human-readable message, and optionally
// wraps an underlying cause for logging.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Invalidf(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

func Internalf(cause error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), cause)
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to Internal for anything else — an unclassified
// failure is always reported as internal rather than silently downgraded.
func KindOf(err error) Kind {
	var de *Error
	for e := err; e != nil; {
		if asErr, ok := e.(*Error); ok {
			de = asErr
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if de == nil {
		return Internal
	}
	return de.Kind
}
