// Package apperr defines the error taxonomy shared by the identity, session, MFA,
// password and access services. Transports map a Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure for callers and transports.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredential
	KindInvalidCode
	KindTokenExpired
	KindTokenInvalid
	KindTokenRevoked
	KindNoActiveSession
	KindAccountLocked
	KindMFARequired
	KindNotFound
	KindConflict
	KindValidation
	KindForbidden
	KindTransactionFailure
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindInvalidCode:
		return "invalid_code"
	case KindTokenExpired:
		return "token_expired"
	case KindTokenInvalid:
		return "token_invalid"
	case KindTokenRevoked:
		return "token_revoked"
	case KindNoActiveSession:
		return "no_active_session"
	case KindAccountLocked:
		return "account_locked"
	case KindMFARequired:
		return "mfa_required"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindTransactionFailure:
		return "transaction_failure"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a classified error with a client-safe message. Err carries the
// underlying cause and is never shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err under kind, keeping err as the cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Transient wraps a storage or cache failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Message: op + " unavailable", Err: err}
}

// Sentinels shared across services.
var (
	ErrInvalidCredential = New(KindInvalidCredential, "invalid email or password")
	ErrInvalidCode       = New(KindInvalidCode, "invalid verification code")
	ErrTokenExpired      = New(KindTokenExpired, "token expired")
	ErrTokenInvalid      = New(KindTokenInvalid, "token invalid")
	ErrTokenRevoked      = New(KindTokenRevoked, "token revoked")
	ErrNoActiveSession   = New(KindNoActiveSession, "no active session")
	ErrMFARequired       = New(KindMFARequired, "multi-factor authentication required")
	ErrForbidden         = New(KindForbidden, "forbidden")
)

// KindOf returns the Kind of the first *Error, *ValidationError or *LockedError in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var le *LockedError
	if errors.As(err, &le) {
		return KindAccountLocked
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NotFound returns a KindNotFound error naming the missing entity.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// Conflict returns a KindConflict error.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// ValidationError lists every reason input was rejected.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// Invalid returns a *ValidationError with the given reasons.
func Invalid(reasons ...string) error {
	return &ValidationError{Reasons: reasons}
}

// LockedError reports an account lock and when it lifts.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}
