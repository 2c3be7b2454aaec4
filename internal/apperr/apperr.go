// Package apperr defines the error kinds surfaced by the record adapter.
//
// Every error returned across the adapter boundary is either an *Error with
// one of the Kind values below, or an error from the backend that the caller
// is expected to handle unchanged.
//
// Kinds and their numeric codes:
//
//	NotFound          404  no record for the requested identity
//	BadRequest        400  malformed input (missing id on update, bad filter)
//	MethodNotAllowed  405  batch operation not permitted
//	GeneralError      500  store-level query construction failure
//	NotImplemented    501  operator the store cannot express ($in, $nin)
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes adapter errors.
type Kind string

const (
	// KindNotFound indicates no record matched the requested identity.
	KindNotFound Kind = "NotFound"

	// KindBadRequest indicates malformed caller input.
	KindBadRequest Kind = "BadRequest"

	// KindMethodNotAllowed indicates a multi-record call that is not allowed.
	KindMethodNotAllowed Kind = "MethodNotAllowed"

	// KindGeneralError wraps a query construction failure from the store.
	KindGeneralError Kind = "GeneralError"

	// KindNotImplemented indicates a filter operator the store cannot express.
	KindNotImplemented Kind = "NotImplemented"
)

// Code returns the HTTP-style status code for the kind.
func (k Kind) Code() int {
	switch k {
	case KindNotFound:
		return 404
	case KindBadRequest:
		return 400
	case KindMethodNotAllowed:
		return 405
	case KindNotImplemented:
		return 501
	default:
		return 500
	}
}

// Error is the structured adapter error.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Name is the original error name for GeneralError (e.g. the store's
	// error type). Empty for other kinds.
	Name string

	// Message is a human-readable description.
	Message string

	// ID is the record identity the operation targeted, when there is one.
	ID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Name, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the HTTP-style status code.
func (e *Error) Code() int {
	return e.Kind.Code()
}

// NotFound reports that no record exists for id.
func NotFound(id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("No record found for id '%s'", id),
		ID:      id,
	}
}

// BadRequest reports malformed input.
func BadRequest(format string, args ...any) *Error {
	return &Error{
		Kind:    KindBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// MethodNotAllowed reports a disallowed multi-record call.
func MethodNotAllowed(format string, args ...any) *Error {
	return &Error{
		Kind:    KindMethodNotAllowed,
		Message: fmt.Sprintf(format, args...),
	}
}

// GeneralQuery wraps a store query construction failure, carrying the
// original name and message.
func GeneralQuery(name, message string, cause error) *Error {
	return &Error{
		Kind:    KindGeneralError,
		Name:    name,
		Message: message,
		Cause:   cause,
	}
}

// NotImplemented reports an unsupported filter operator.
func NotImplemented(format string, args ...any) *Error {
	return &Error{
		Kind:    KindNotImplemented,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound returns true if err is a NotFound error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsBadRequest returns true if err is a BadRequest error.
func IsBadRequest(err error) bool {
	return KindOf(err) == KindBadRequest
}

// IsMethodNotAllowed returns true if err is a MethodNotAllowed error.
func IsMethodNotAllowed(err error) bool {
	return KindOf(err) == KindMethodNotAllowed
}

// IsGeneralError returns true if err is a GeneralError.
func IsGeneralError(err error) bool {
	return KindOf(err) == KindGeneralError
}

// IsNotImplemented returns true if err is a NotImplemented error.
func IsNotImplemented(err error) bool {
	return KindOf(err) == KindNotImplemented
}
