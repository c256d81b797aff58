// Package common defines the sentinel errors shared by the pipeline, the
// repositories and the HTTP layer. Callers match them with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrConfig marks a missing or inactive registry identity. It aborts a
	// submission before anything is uploaded or recorded.
	ErrConfig = errors.New("registry configuration error")

	// ErrValidation marks input rejected locally before reaching the registry.
	ErrValidation = errors.New("validation error")

	// ErrAlreadySubmitted is returned when a retry names a submission whose
	// audit status is already SUCCESS.
	ErrAlreadySubmitted = errors.New("submission already succeeded")
)
