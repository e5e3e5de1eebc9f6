// Package apperr defines the failure taxonomy shared by the generation
// client, the pipeline controller and the outer surfaces.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// KindPrecondition is detected before any provider call and changes no state.
	KindPrecondition Kind = "precondition_failure"
	KindInvalidInput Kind = "invalid_input"
	// KindProvider covers network failures, non-success responses and
	// unparseable structured output.
	KindProvider Kind = "provider_error"
	// KindBlocked is a safety block reported by the provider. Never retried.
	KindBlocked Kind = "blocked_content"
	// KindNoImage means the provider answered without the required image payload.
	KindNoImage  Kind = "no_image_returned"
	KindCanceled Kind = "canceled"
)

type Error struct {
	Kind    Kind
	Message string
	// Reason carries the provider block reason for KindBlocked.
	Reason string
	// Detail carries supplemental provider output (safety ratings, returned
	// text, finish reason).
	Detail    string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Reason != "" {
		msg += " (reason: " + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Precondition(format string, args ...any) *Error {
	return New(KindPrecondition, fmt.Sprintf(format, args...))
}

func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, fmt.Sprintf(format, args...))
}

func Provider(err error, format string, args ...any) *Error {
	return Wrap(err, KindProvider, fmt.Sprintf(format, args...))
}

func Blocked(message, reason, detail string) *Error {
	return &Error{Kind: KindBlocked, Message: message, Reason: reason, Detail: detail}
}

func NoImage(message, detail string) *Error {
	return &Error{Kind: KindNoImage, Message: message, Detail: detail}
}

// KindOf reports the kind of err. Context cancellation maps to KindCanceled,
// anything unclassified to KindProvider.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindProvider
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindPrecondition:
		return http.StatusPreconditionFailed
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindBlocked, KindNoImage:
		return http.StatusUnprocessableEntity
	case KindCanceled:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
