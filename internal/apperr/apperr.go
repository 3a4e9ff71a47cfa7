// Package apperr defines the error taxonomy surfaced at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeStorageFailure = "STORAGE_FAILURE"
)

// Error is a typed error that knows its HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Cause returns the text of the wrapped error, or "" when there is none.
func (e *Error) Cause() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// New creates a new Error.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a code, status and message to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// InvalidInput reports a missing or malformed request field.
func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, http.StatusBadRequest, message)
}

// NotFound reports that a referenced claim does not exist.
func NotFound(message string) *Error {
	return New(CodeNotFound, http.StatusNotFound, message)
}

// Conflict reports that a guarded write lost a race.
func Conflict(err error, message string) *Error {
	return Wrap(err, CodeConflict, http.StatusConflict, message)
}

// StorageFailure wraps an unexpected storage or internal error.
func StorageFailure(err error, message string) *Error {
	return Wrap(err, CodeStorageFailure, http.StatusInternalServerError, message)
}

// FromError normalises any error into an *Error. Untyped errors become a
// StorageFailure carrying fallback as the message.
func FromError(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return StorageFailure(err, fallback)
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
