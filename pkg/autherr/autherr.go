// Package autherr defines the error taxonomy shared by the credential
// providers, the callback listener, the GSS negotiator, and the trust
// material builder.
//
// Every failure surfaced by this module is one of six kinds. Callers match
// with errors.Is against the kind sentinels; the original cause is always
// attached and reachable through errors.Unwrap. Nothing in this module
// retries internally - retry policy belongs to the caller.
package autherr

import (
	"errors"
	"fmt"
)

// Kind sentinels. These are the only values callers should match against.
var (
	// ErrConfiguration indicates a required parameter is missing or out of
	// range. Raised before any network or socket I/O happens.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthorizationDenied indicates the identity provider explicitly
	// rejected the attempt or returned no usable assertion or code.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrProtocol indicates a malformed or unexpected message from the IdP,
	// the callback client, or the GSS peer.
	ErrProtocol = errors.New("protocol error")

	// ErrNetwork indicates a transport failure during fetch, negotiation,
	// or listen.
	ErrNetwork = errors.New("network error")

	// ErrTimeout indicates the browser callback was not received within the
	// configured window. Distinct from ErrAuthorizationDenied.
	ErrTimeout = errors.New("timeout")

	// ErrSecurity indicates trust or key material construction failed (bad
	// keystore, missing cert, bad passphrase). Always fatal to the
	// connection attempt.
	ErrSecurity = errors.New("security error")
)

// Error wraps a cause with its taxonomy kind and the operation that failed.
type Error struct {
	// Kind is one of the sentinels above.
	Kind error

	// Op names the failing operation, e.g. "callback.listen".
	Op string

	// Err is the underlying cause. May be nil when the kind and message
	// carry everything there is to know.
	Err error

	msg string
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.msg != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.msg)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap exposes the cause chain. The kind sentinel is part of the chain so
// errors.Is(err, autherr.ErrTimeout) works on wrapped errors.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds an Error of the given kind with a formatted message and no cause.
func New(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	// Already classified: keep the original kind, do not re-tag.
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with an additional message for context.
func Wrapf(kind error, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err, msg: fmt.Sprintf(format, args...)}
}

// Configuration reports a configuration failure.
func Configuration(op, format string, args ...any) *Error {
	return New(ErrConfiguration, op, format, args...)
}

// Denied reports an explicit rejection by the identity provider.
func Denied(op, format string, args ...any) *Error {
	return New(ErrAuthorizationDenied, op, format, args...)
}

// Protocol reports a malformed or unexpected peer message.
func Protocol(op, format string, args ...any) *Error {
	return New(ErrProtocol, op, format, args...)
}

// Timeout reports that a bounded wait expired.
func Timeout(op, format string, args ...any) *Error {
	return New(ErrTimeout, op, format, args...)
}

// Security reports a trust or key material failure.
func Security(op, format string, args ...any) *Error {
	return New(ErrSecurity, op, format, args...)
}
