// Package apperr defines the failure kinds the coordinator and its
// collaborators surface to front ends.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it without inspecting
// message text.
type Kind string

const (
	// KindUpstream indicates the provider call failed, returned a non-2xx
	// status, or sent an unparseable body.
	KindUpstream Kind = "upstream"
	// KindMalformed indicates the provider answered but the payload lacks
	// required fields.
	KindMalformed Kind = "malformed_upstream_data"
	// KindUnknownCurrency indicates the target code is absent from the rate table.
	KindUnknownCurrency Kind = "unknown_currency"
	// KindInvalidInput indicates caller-supplied parameters failed shape checks.
	KindInvalidInput Kind = "invalid_input"
)

// Error is a classified failure.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = e.Provider + " " + prefix
	}
	msg := e.Message
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUpstream        = &Error{Kind: KindUpstream, Message: "upstream provider failed"}
	ErrMalformed       = &Error{Kind: KindMalformed, Message: "upstream payload is malformed"}
	ErrUnknownCurrency = &Error{Kind: KindUnknownCurrency, Message: "currency is not supported"}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// NewUpstream creates an upstream error for provider.
func NewUpstream(provider string, statusCode int, message string, cause error) *Error {
	return &Error{
		Kind:       KindUpstream,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewMalformed creates a malformed-payload error.
func NewMalformed(message string, cause error) *Error {
	return &Error{
		Kind:    KindMalformed,
		Message: message,
		Cause:   cause,
	}
}

// NewUnknownCurrency creates an unknown-currency error for code.
func NewUnknownCurrency(code string) *Error {
	return &Error{
		Kind:    KindUnknownCurrency,
		Message: fmt.Sprintf("no rate for currency %q", code),
	}
}

// NewInvalidInput creates an invalid-input error.
func NewInvalidInput(message string, cause error) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
