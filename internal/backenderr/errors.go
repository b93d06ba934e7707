// Package backenderr defines the error taxonomy shared by every backend
// adapter, the connection resolver, and the credential store. Each kind
// carries a structured cause chain plus a one-line user message and never
// leaks secrets.
package backenderr

import (
	"errors"
	"fmt"
)

// Kind classifies a DBCrust error for REPL recovery decisions: whether the
// active adapter must be dropped, whether auth fallback should continue
// trying other password sources, and what the non-interactive exit code is.
type Kind string

const (
	KindConnection       Kind = "connection_error"
	KindAuthentication   Kind = "authentication_error"
	KindTunnel           Kind = "tunnel_error"
	KindConfiguration    Kind = "configuration_error"
	KindCredentialStore  Kind = "credential_store_error"
	KindDynamicCredential Kind = "dynamic_credential_error"
	KindResolution       Kind = "resolution_error"
	KindProtocol         Kind = "protocol_error"
	KindQuery            Kind = "query_error"
	KindUnsupported      Kind = "unsupported_feature"
	KindCancelled        Kind = "cancelled"
	KindTimeout          Kind = "timeout"
	KindIO               Kind = "io_error"
)

// Error is the concrete structured error type returned across DBCrust's
// public interfaces. Message is safe to print to the user; Cause (when
// present) is wrapped for %w-based inspection but is never itself printed
// with secret-bearing content (callers must scrub before constructing one).
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// SQLState carries the backend-native error code for QueryError, when
	// the adapter's protocol exposes one (Postgres SQLSTATE, MySQL error
	// number as string, etc). Empty for every other Kind.
	SQLState string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the REPL should return to Idle without
// dropping the active adapter, per the propagation policy.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindQuery, KindUnsupported, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}

// ExitCode maps an error to the non-interactive (-c/-f) process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrCancelled) {
		return 130
	}
	return 1
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Connectionf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Authenticationf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Tunnelf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTunnel, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Configurationf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func CredentialStoref(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindCredentialStore, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func DynamicCredentialf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindDynamicCredential, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Resolutionf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindResolution, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Protocolf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Queryf(cause error, sqlState string, format string, args ...any) *Error {
	return &Error{Kind: KindQuery, Message: fmt.Sprintf(format, args...), Cause: cause, SQLState: sqlState}
}

func Unsupportedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Message: fmt.Sprintf(format, args...)}
}

func IOf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindIO, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinels matched with errors.Is for the Kind-less fixed cases.
var (
	ErrCancelled           = &Error{Kind: KindCancelled, Message: "interrupted"}
	ErrTimeout             = &Error{Kind: KindTimeout, Message: "operation timed out"}
	ErrNamedQueryMissingArgument = errors.New("named query missing argument")
	ErrResolutionLoop      = &Error{Kind: KindResolution, Message: "resolution loop detected"}
	ErrInsecurePermissions = &Error{Kind: KindCredentialStore, Message: "password file has insecure permissions"}
)

// Is implements errors.Is comparison against *Error targets, so wrapping
// call sites can still do errors.Is(err, ErrTimeout) even though each
// occurrence is a distinct *Error allocation. A target with a Message and
// no Cause (the fixed sentinels above) matches on Kind and Message; any
// other target matches on Kind alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if te.Cause == nil && te.Message != "" {
		return e.Kind == te.Kind && e.Message == te.Message
	}
	return e.Kind == te.Kind
}
