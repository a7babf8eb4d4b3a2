package gamerr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide between retry, surface,
// and remediation without string-matching error text.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindAdapterNotInitialized: the backend adapter was used before Open
	// completed. Retryable with backoff.
	KindAdapterNotInitialized
	// KindSubstrateUnavailable: the control plane or container engine is
	// unreachable. Retryable, surfaced as a server error.
	KindSubstrateUnavailable
	// KindQuotaExceeded: the substrate rejected the sandbox for resource
	// limits. Fatal to the attempt, surfaced to the user.
	KindQuotaExceeded
	// KindCredentialsMissing: the owner has no credential bundle uploaded.
	// The user must remediate; never auto-retried.
	KindCredentialsMissing
	// KindAccessDenied: owner mismatch. Fatal, and the response must not
	// reveal whether the session exists.
	KindAccessDenied
	// KindCommandRejected: the sanitizer vetoed the command. Fatal only to
	// that command.
	KindCommandRejected
	// KindStreamClosed: the backend exec stream ended unexpectedly. The
	// session stays Active and clients may reattach.
	KindStreamClosed
	// KindSessionConflict: a session with this id already exists in a live
	// state.
	KindSessionConflict
	// KindSessionNotFound: no such session.
	KindSessionNotFound
	// KindSecretNotFound: the credential store has no entry under that name.
	KindSecretNotFound
	// KindSecretStoreUnavailable: the credential store itself is unreachable.
	KindSecretStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAdapterNotInitialized:
		return "adapter_not_initialized"
	case KindSubstrateUnavailable:
		return "substrate_unavailable"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindCredentialsMissing:
		return "credentials_missing"
	case KindAccessDenied:
		return "access_denied"
	case KindCommandRejected:
		return "command_rejected"
	case KindStreamClosed:
		return "stream_closed"
	case KindSessionConflict:
		return "session_conflict"
	case KindSessionNotFound:
		return "session_not_found"
	case KindSecretNotFound:
		return "secret_not_found"
	case KindSecretStoreUnavailable:
		return "secret_store_unavailable"
	default:
		return "unknown"
	}
}

// Error carries a Kind plus the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an existing error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain, KindUnknown if absent.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure class is worth retrying with
// backoff. Everything else needs user action or a code fix.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindAdapterNotInitialized, KindSubstrateUnavailable, KindSecretStoreUnavailable:
		return true
	}
	return false
}
