// internal/apperr/apperr.go
//
// Typed errors shared across the module. Every fallible boundary
// classifies its failures into one Kind so callers can branch on the
// class instead of matching message strings.

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is the catch-all for failures with no better class.
	Internal Kind = iota
	// AuthenticationFailed: the remote rejected our credentials.
	AuthenticationFailed
	// ConnectionLost: the transport failed; the session is unusable.
	ConnectionLost
	// ScopeViolation: a path outside the host's declared file set.
	ScopeViolation
	// AccessDenied: the remote refused a permitted-looking operation.
	AccessDenied
	// TransferFailed: a remote file operation failed mid-flight.
	TransferFailed
	// ValidationFailed: a change set was rejected before any remote
	// interaction.
	ValidationFailed
	// VerificationFailed: applied content did not read back as written,
	// or the health probe failed.
	VerificationFailed
	// PartialRollback: a rollback could not restore every path; the
	// host needs operator attention.
	PartialRollback
	// Conflict: the operation collides with in-flight or existing
	// state.
	Conflict
	// NotFound: the referenced record or remote path does not exist.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case AuthenticationFailed:
		return "authentication failed"
	case ConnectionLost:
		return "connection lost"
	case ScopeViolation:
		return "scope violation"
	case AccessDenied:
		return "access denied"
	case TransferFailed:
		return "transfer failed"
	case ValidationFailed:
		return "validation failed"
	case VerificationFailed:
		return "verification failed"
	case PartialRollback:
		return "partial rollback"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not found"
	default:
		return "internal error"
	}
}

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause to errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an underlying error. A nil cause yields nil, so call
// sites can wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of the outermost typed error in the chain,
// or Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether any error in the chain carries the kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Retryable reports whether the failure is transient enough that an
// idempotent operation may be retried. Only transport loss qualifies;
// everything else fails the same way on a second attempt.
func Retryable(err error) bool {
	return IsKind(err, ConnectionLost)
}
