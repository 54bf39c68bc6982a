// Package apperr provides the structured error type shared by all packages.
//
// Every failure that reaches the user carries a Code so that callers can
// decide whether to retry (RATE_LIMITED, NETWORK_ERROR, 5xx HTTP_ERROR) or
// abort (MARKER_NOT_FOUND, AUTH_ERROR, ...) without string matching.
//
//	err := apperr.New(apperr.CodeMarkerNotFound, "marker for %s not found", key)
//	if apperr.Is(err, apperr.CodeMarkerNotFound) {
//	    // abort
//	}
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Code represents a machine-readable error code.
type Code string

const (
	CodeNetwork           Code = "NETWORK_ERROR"
	CodeHTTP              Code = "HTTP_ERROR"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeAuth              Code = "AUTH_ERROR"
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"
	CodeMarkerNotFound    Code = "MARKER_NOT_FOUND"
	CodeDuplicateMarker   Code = "DUPLICATE_MARKER"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeRetriesExhausted  Code = "RETRIES_EXHAUSTED"
	CodeIO                Code = "IO_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)

	// Status and Body are set for HTTP_ERROR.
	Status int
	Body   string
	// ResetAt is set for RATE_LIMITED when the server advertised a reset time.
	ResetAt time.Time
	// Retryable marks transient failures that a retry may fix.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// RateLimited creates a RATE_LIMITED error that resets at the given time.
func RateLimited(resetAt time.Time, cause error) *Error {
	e := Wrap(CodeRateLimited, cause, "rate limit exceeded")
	e.ResetAt = resetAt
	return e
}

// HTTP creates an HTTP_ERROR for a non-success response.
// Server-side failures (5xx) are marked retryable.
func HTTP(status int, body string, cause error) *Error {
	e := Wrap(CodeHTTP, cause, "unexpected response")
	e.Status = status
	e.Body = body
	e.Retryable = status >= 500
	return e
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the first *Error in the chain is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
