// Package errors defines the shared error vocabulary for dealmemo: sentinel
// domain errors checked with errors.Is, and the classified PipelineError used
// at stage boundaries.
//
// Usage:
//
//	import dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
//
//	if dmerrors.IsNotFound(err) {
//	    // handle missing row
//	}
package errors

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates missing or invalid credentials on a request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState indicates the operation does not apply to the current state,
	// e.g. claiming a job that is no longer pending.
	ErrInvalidState = errors.New("invalid state")

	// ErrMissingCredential indicates an integration has no usable credential.
	ErrMissingCredential = errors.New("missing credential")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsMissingCredential(err error) bool {
	return errors.Is(err, ErrMissingCredential)
}
