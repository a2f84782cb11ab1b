// Package apperrors provides the error taxonomy shared by the orchestrator,
// the domain registry and the config store.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindProvider   Kind = "provider"
	KindNotFound   Kind = "not_found"
	KindCancelled  Kind = "cancelled"
	KindInternal   Kind = "internal"
)

// Error is a classified error. Op names the operation that failed,
// Message is safe to show to API callers.
type Error struct {
	Kind    Kind     `json:"error"`
	Op      string   `json:"-"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so that errors.Is(err, &Error{Kind: KindConflict}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	return StatusCode(e.Kind)
}

// StatusCode maps a kind to an HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindProvider:
		return http.StatusBadGateway
	case KindCancelled:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Validation creates a validation error. details lists individual field problems.
func Validation(op, message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Details: details}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

// NotFound creates a not-found error for the named resource.
func NotFound(op, resource, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Provider wraps a backend failure.
func Provider(op, message string, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, Message: message, Err: err}
}

// Cancelled reports work abandoned because its deployment or claim was deleted.
func Cancelled(op, message string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// KindOf returns the kind of err. Context cancellation maps to KindCancelled,
// deadline expiry to KindProvider, anything unclassified to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProvider
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// As converts err to *Error, wrapping unclassified errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch KindOf(err) {
	case KindCancelled:
		return &Error{Kind: KindCancelled, Message: "operation cancelled", Err: err}
	case KindProvider:
		return &Error{Kind: KindProvider, Message: "operation timed out", Err: err}
	}
	return Internal("", err)
}
