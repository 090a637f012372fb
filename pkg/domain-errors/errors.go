// Package domainerrors provides coded errors shared by the engine, the audit
// service and the CLI.
//
// Every error that crosses a module boundary carries a Code. Callers branch on
// the code (HasCode / Is) rather than on message text, and the CLI and HTTP
// layers map codes to exit statuses and response statuses.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeConfig marks a malformed or inconsistent configuration: missing
	// hierarchy for a declared quasi-identifier, k below 2, priority entries
	// naming unknown fields, or a hierarchy asked for a level it does not have.
	CodeConfig Code = "config_error"

	// CodeSchema marks input data that does not match the configured schema:
	// a referenced column is absent or a value cannot be read by its hierarchy.
	CodeSchema Code = "schema_error"

	// CodeCompliance marks a run that cannot produce a k-anonymous release
	// within the configured suppression budget.
	CodeCompliance Code = "compliance_error"

	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether the outermost coded error in the chain has the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// HasCode reports whether any coded error in the chain has the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}
