// Package apperr defines the error taxonomy returned at service boundaries.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind int

const (
	KindDownstream Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindNotFound
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "downstream"
	}
}

// Error is a classified error. Stage is set for pipeline failures.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for the error.
func (e *Error) StatusCode() int {
	return HTTPStatus(e.Kind)
}

// Validation creates an error for bad input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates an error for a name or capacity clash.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Auth creates an error for a missing or rejected identity.
func Auth(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates an error for a missing entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Downstream creates an error for a failed external call at the given stage.
func Downstream(stage, message string, err error) *Error {
	return &Error{Kind: KindDownstream, Stage: stage, Message: message, Err: err}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are Downstream.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDownstream
}

// StageOf returns the pipeline stage recorded on err, if any.
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
