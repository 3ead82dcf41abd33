// Package apperr defines the error taxonomy exposed over the API: every
// guard failure carries a stable machine-readable code so clients can tell
// "retry" apart from "not allowed yet".
package apperr

import (
	"errors"
	"fmt"
)

// Stable error codes.
const (
	CodeValidation   = "validation_error"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "authorization_error"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInvalidState = "invalid_state"
	CodeProvider     = "provider_unavailable"
)

type Error struct {
	Code    string
	Message string

	// CurrentState is set on invalid_state errors so the client can
	// explain why the transition was rejected.
	CurrentState string

	// RetryAfterSeconds is set when an OTP regeneration hits its cooldown.
	RetryAfterSeconds int

	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity string) *Error {
	return &Error{Code: CodeNotFound, Message: entity + " not found"}
}

// Conflict signals an optimistic-concurrency version mismatch; the caller
// should re-read and retry.
func Conflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(currentState, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...), CurrentState: currentState}
}

// Cooldown is the invalid_state variant for OTP regeneration inside the
// cooldown window.
func Cooldown(remainingSeconds int) *Error {
	return &Error{
		Code:              CodeInvalidState,
		Message:           fmt.Sprintf("otp was requested recently, retry in %ds", remainingSeconds),
		RetryAfterSeconds: remainingSeconds,
	}
}

func Provider(err error) *Error {
	return &Error{Code: CodeProvider, Message: "payment provider unavailable", wrapped: err}
}

// As extracts an *Error from any error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
