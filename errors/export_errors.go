/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrNoData signals that an export matched no records. It is an outcome,
// not a failure: no file is produced.
var ErrNoData = stderrors.New("no records matched the export filters")

// ErrUnknownEntity is returned when an export names an entity type that was
// never registered.
var ErrUnknownEntity = stderrors.New("unknown entity type")

// ValidationError is raised before any query executes when the request
// itself cannot be served.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError with a formatted reason.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return stderrors.As(err, &v)
}

type nonRetryable struct {
	err error
}

func (e *nonRetryable) Error() string { return e.err.Error() }
func (e *nonRetryable) Unwrap() error { return e.err }

// NonRetryable marks err so that background jobs stop retrying on it.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

// IsRetryable reports whether a failed job attempt is worth repeating.
// Validation errors and unknown entities never succeed on a second try.
func IsRetryable(err error) bool {
	var nr *nonRetryable
	if stderrors.As(err, &nr) {
		return false
	}
	if IsValidation(err) || stderrors.Is(err, ErrUnknownEntity) {
		return false
	}
	return true
}

// StatusFor maps an export error to the http status returned to callers.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrUnknownEntity):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
