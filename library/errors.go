package library

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups reason codes into the broad classes callers branch on.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidState    Kind = "INVALID_STATE"
	KindPolicyViolation Kind = "POLICY_VIOLATION"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindValidation      Kind = "VALIDATION"
	KindStoreFailure    Kind = "STORE_FAILURE"
)

// Reason is a stable, machine-readable error code.
type Reason string

const (
	ReasonNotFound             Reason = "NotFound"
	ReasonMemberNotFound       Reason = "MemberNotFound"
	ReasonCopyNotFound         Reason = "CopyNotFound"
	ReasonBookNotFound         Reason = "BookNotFound"
	ReasonLoanNotFound         Reason = "LoanNotFound"
	ReasonMemberInactive       Reason = "MemberInactive"
	ReasonLimitReached         Reason = "LimitReached"
	ReasonCopyUnavailable      Reason = "CopyUnavailable"
	ReasonAlreadyReturned      Reason = "AlreadyReturned"
	ReasonNotPending           Reason = "NotPending"
	ReasonDuplicateReservation Reason = "DuplicateReservation"
	ReasonBookAvailable        Reason = "BookAvailable"
	ReasonInvalidTransition    Reason = "InvalidTransition"
	ReasonNotAuthorized        Reason = "NotAuthorized"
	ReasonInvalidCredentials   Reason = "InvalidCredentials"
	ReasonValidation           Reason = "Validation"
	ReasonStoreUnavailable     Reason = "StoreUnavailable"
)

// Kind returns the class the reason belongs to.
func (r Reason) Kind() Kind {
	switch r {
	case ReasonNotFound, ReasonMemberNotFound, ReasonCopyNotFound, ReasonBookNotFound, ReasonLoanNotFound:
		return KindNotFound
	case ReasonCopyUnavailable, ReasonAlreadyReturned, ReasonNotPending, ReasonInvalidTransition:
		return KindInvalidState
	case ReasonMemberInactive, ReasonLimitReached, ReasonDuplicateReservation, ReasonBookAvailable:
		return KindPolicyViolation
	case ReasonNotAuthorized, ReasonInvalidCredentials:
		return KindUnauthorized
	case ReasonValidation:
		return KindValidation
	default:
		return KindStoreFailure
	}
}

// HTTPStatus returns the status an HTTP adapter should answer with.
// Every business rejection is a 400; only store failures are 503.
func (r Reason) HTTPStatus() int {
	switch r.Kind() {
	case KindStoreFailure:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		if r == ReasonInvalidCredentials {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

// Error is a circulation error with a reason code, a human message and
// optional details.
type Error struct {
	Reason  Reason `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Reason == t.Reason
	}
	return false
}

// Kind returns the error's class.
func (e *Error) Kind() Kind { return e.Reason.Kind() }

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int { return e.Reason.HTTPStatus() }

// Retryable reports whether the caller may retry the same request.
func (e *Error) Retryable() bool { return e.Reason == ReasonStoreUnavailable }

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Reason: e.Reason, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Reason: e.Reason, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is.
var (
	ErrNotFound             = &Error{Reason: ReasonNotFound, Message: "not found"}
	ErrMemberNotFound       = &Error{Reason: ReasonMemberNotFound, Message: "member not found"}
	ErrCopyNotFound         = &Error{Reason: ReasonCopyNotFound, Message: "book copy not found"}
	ErrBookNotFound         = &Error{Reason: ReasonBookNotFound, Message: "book not found"}
	ErrLoanNotFound         = &Error{Reason: ReasonLoanNotFound, Message: "loan not found"}
	ErrMemberInactive       = &Error{Reason: ReasonMemberInactive, Message: "member is not active"}
	ErrLimitReached         = &Error{Reason: ReasonLimitReached, Message: "member has reached maximum book limit"}
	ErrCopyUnavailable      = &Error{Reason: ReasonCopyUnavailable, Message: "book copy is not available"}
	ErrAlreadyReturned      = &Error{Reason: ReasonAlreadyReturned, Message: "book already returned"}
	ErrNotPending           = &Error{Reason: ReasonNotPending, Message: "only pending reservations can be cancelled"}
	ErrDuplicateReservation = &Error{Reason: ReasonDuplicateReservation, Message: "member already has a pending reservation for this book"}
	ErrBookAvailable        = &Error{Reason: ReasonBookAvailable, Message: "book is available, no reservation needed"}
	ErrInvalidTransition    = &Error{Reason: ReasonInvalidTransition, Message: "invalid copy status transition"}
	ErrNotAuthorized        = &Error{Reason: ReasonNotAuthorized, Message: "not authorized"}
	ErrInvalidCredentials   = &Error{Reason: ReasonInvalidCredentials, Message: "invalid member id or password"}
	ErrValidation           = &Error{Reason: ReasonValidation, Message: "validation error"}
	ErrStoreUnavailable     = &Error{Reason: ReasonStoreUnavailable, Message: "store unavailable, try again"}
)

func newError(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func copyUnavailable(status CopyStatus) *Error {
	return ErrCopyUnavailable.WithDetails(map[string]string{"status": string(status)})
}

func invalidTransition(from, to CopyStatus) *Error {
	return newError(ReasonInvalidTransition, "cannot move copy from %s to %s", from, to).
		WithDetails(map[string]string{"from": string(from), "to": string(to)})
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return newError(ReasonValidation, format, args...)
}

// ValidationWithDetails creates a validation error with per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Reason: ReasonValidation, Message: msg, Details: details}
}

// storeUnavailable wraps a driver failure so it never reaches the boundary
// verbatim.
func storeUnavailable(err error) *Error {
	return ErrStoreUnavailable.WithCause(err)
}

// Description is the boundary-safe view of an error.
type Description struct {
	Code    Reason `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Describe returns the reason code and message of err without its causes.
// Errors that did not originate here are reported as StoreUnavailable.
func Describe(err error) Description {
	var e *Error
	if errors.As(err, &e) {
		return Description{Code: e.Reason, Message: e.Message, Details: e.Details}
	}
	return Description{Code: ReasonStoreUnavailable, Message: ErrStoreUnavailable.Message}
}

// ReasonOf returns the reason code carried by err, or "" when err is nil.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	return Describe(err).Code
}
