// Package errors defines the typed error carried from services to the HTTP
// layer. Every Code maps to a status, a public message and a retry hint.
package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Stock and webhook failures.
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeQuantityExceedsStock Code = "QUANTITY_EXCEEDS_STOCK"
	CodeIntegrity            Code = "INTEGRITY_FAILURE"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// clientFault and serverFault keep the table below on one line per code.
func clientFault(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details}
}

func serverFault(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details, Retryable: true}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:           clientFault(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:         clientFault(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:            clientFault(http.StatusForbidden, "access denied", false),
	CodeNotFound:             clientFault(http.StatusNotFound, "resource not found", false),
	CodeConflict:             clientFault(http.StatusConflict, "conflict detected", false),
	CodeStateConflict:        clientFault(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:          clientFault(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:            clientFault(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeInsufficientStock:    clientFault(http.StatusConflict, "insufficient stock", true),
	CodeQuantityExceedsStock: clientFault(http.StatusConflict, "requested quantity exceeds available stock", true),
	CodeIntegrity:            clientFault(http.StatusUnauthorized, "payload integrity check failed", false),
	CodeInternal:             serverFault(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:           serverFault(http.StatusServiceUnavailable, "dependency unavailable", true),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is safe to use through a nil pointer.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the client-visible details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	text := string(e.code) + ": " + e.message
	if e.cause != nil {
		text += ": " + e.cause.Error()
	}
	return text
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return As(err).codeIs(code)
}

// IsRetryable reports whether the caller may retry err. Untyped errors count
// as internal and are retryable.
func IsRetryable(err error) bool {
	if typed := As(err); typed != nil {
		return MetadataFor(typed.code).Retryable
	}
	return err != nil
}

func (e *Error) codeIs(code Code) bool {
	return e != nil && e.code == code
}
