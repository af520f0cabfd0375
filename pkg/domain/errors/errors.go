// Package errors defines the typed failure values the engine returns.
// The API layer translates kinds to HTTP status codes; tool failures are
// deliberately NOT represented here because they are recorded run outcomes,
// not errors.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for transport mapping.
type Kind string

const (
	// KindAuthMissing means the request carried no usable bearer token.
	KindAuthMissing Kind = "auth_missing"
	// KindNotFound means a referenced entity does not exist.
	KindNotFound Kind = "not_found"
	// KindInvalidInput means the request shape or field values are invalid.
	KindInvalidInput Kind = "invalid_input"
	// KindProtocolViolation means the caller broke the approval/replan
	// protocol in a way it can recover from.
	KindProtocolViolation Kind = "protocol_violation"
	// KindInvalidTransition means the state machine was asked to make an
	// illegal move. Reaching this from valid input sequences is a bug.
	KindInvalidTransition Kind = "invalid_state_transition"
	// KindInternal covers storage and other unexpected failures.
	KindInternal Kind = "internal"
)

// Protocol violation subkinds carried in Error.Code.
const (
	CodeNeedsReplan         = "needs_replan"
	CodeUnapproved          = "unapproved"
	CodeHighRiskUnconfirmed = "high_risk_unconfirmed"
	CodeDryRunRefusal       = "dry_run_refuses_mutation"
	CodeReferenceUnresolved = "reference_unresolved"
)

// Error is the single error type crossing the engine boundary.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind (and Code when the target sets one).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound reports a missing entity, e.g. NotFound("session").
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Detail: entity + " not found"}
}

// InvalidInput reports a malformed field.
func InvalidInput(field, reason string) *Error {
	return &Error{
		Kind:   KindInvalidInput,
		Code:   field,
		Detail: fmt.Sprintf("invalid %s: %s", field, reason),
	}
}

// ProtocolViolation reports a recoverable protocol break.
func ProtocolViolation(code, detail string) *Error {
	return &Error{Kind: KindProtocolViolation, Code: code, Detail: detail}
}

// InvalidTransition reports an illegal state-machine move.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:   KindInvalidTransition,
		Detail: fmt.Sprintf("invalid transition: %s -> %s", from, to),
	}
}

// Internal wraps an unexpected failure.
func Internal(op string, cause error) *Error {
	return &Error{
		Kind:   KindInternal,
		Detail: fmt.Sprintf("%s: %v", op, cause),
		Cause:  cause,
	}
}

// KindOf extracts the Kind from err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf extracts the human detail from err.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}

// As is a convenience re-export so callers need only one errors import.
func As(err error, target any) bool { return errors.As(err, target) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }
