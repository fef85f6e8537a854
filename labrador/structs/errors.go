// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"fmt"
)

// Error kinds. Domain code wraps one of these sentinels into every error it
// returns; the HTTP layer maps kinds to status codes in exactly one place.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

var (
	// ErrReserveContention is returned when the reservation transaction
	// repeatedly loses the select-then-mark race against concurrent
	// reservers or hard deletes.
	ErrReserveContention = fmt.Errorf("%w: reservation contention", ErrConflict)

	// ErrJobCancelled is returned by a commit whose originating OCR job
	// was hard-deleted mid-extraction. The draft is dropped silently.
	ErrJobCancelled = errors.New("ocr job cancelled")

	// ErrSchedulerRunning rejects a second Start on a running scheduler.
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrHubClosed rejects sessions arriving after hub shutdown began.
	ErrHubClosed = errors.New("hub closed")
)

// Bearer token failures. All map to 401.
var (
	ErrTokenMissing      = fmt.Errorf("%w: token missing", ErrUnauthenticated)
	ErrTokenMalformed    = fmt.Errorf("%w: token malformed", ErrUnauthenticated)
	ErrTokenExpired      = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrTokenInvalid      = fmt.Errorf("%w: token invalid", ErrUnauthenticated)
	ErrTokenUserNotFound = fmt.Errorf("%w: token user not found", ErrUnauthenticated)
)

// NewValidationError tags a field problem for a 400 response.
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewForbiddenError tags an ownership failure for a 403 response.
func NewForbiddenError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// NewNotFoundError tags a missing row for a 404 response.
func NewNotFoundError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// NewConflictError tags a uniqueness or contention failure for a 409
// response.
func NewConflictError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NewInternalError wraps an unexpected failure for a 500 response. The
// original error stays in the chain for logging; handlers render only a
// generic message.
func NewInternalError(err error) error {
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// IsUserError reports whether err belongs to a 4xx kind, meaning the
// request rather than the server was at fault.
func IsUserError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}
