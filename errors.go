package authd

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes a Coordinator reports.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindInvalidCredentials
	KindInvalidToken
	KindAccountLocked
	KindAccountDisabled
	KindNotFound
	KindPasswordReused
	KindRateLimited
	KindRetryExhausted
	KindUnavailable
)

var kindNames = [...]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindInvalidCredentials: "invalid_credentials",
	KindInvalidToken:       "invalid_token",
	KindAccountLocked:      "account_locked",
	KindAccountDisabled:    "account_disabled",
	KindNotFound:           "not_found",
	KindPasswordReused:     "password_reused",
	KindRateLimited:        "rate_limited",
	KindRetryExhausted:     "retry_exhausted",
	KindUnavailable:        "unavailable",
}

var kindMessages = [...]string{
	KindInternal:           "internal error",
	KindValidation:         "invalid request",
	KindInvalidCredentials: "invalid username or password",
	KindInvalidToken:       "invalid or expired token",
	KindAccountLocked:      "account is locked",
	KindAccountDisabled:    "account is disabled",
	KindNotFound:           "not found",
	KindPasswordReused:     "password was used recently",
	KindRateLimited:        "too many attempts",
	KindRetryExhausted:     "service busy, try again",
	KindUnavailable:        "service unavailable",
}

// String returns the stable machine-readable code of k.
func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindInternal]
	}
	return kindNames[k]
}

// Message returns a client-safe description of k.
func (k ErrorKind) Message() string {
	if k < 0 || int(k) >= len(kindMessages) {
		return kindMessages[KindInternal]
	}
	return kindMessages[k]
}

// Error is the error type returned by Coordinator methods. Err holds the underlying
// cause and may contain details that must not reach clients.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.Op == "" {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. An Op on target narrows the match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked}
	ErrAccountDisabled    = &Error{Kind: KindAccountDisabled}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrPasswordReused     = &Error{Kind: KindPasswordReused}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrRetryExhausted     = &Error{Kind: KindRetryExhausted}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrInternal           = &Error{Kind: KindInternal}
)

// KindOf returns the kind carried by err, or KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
