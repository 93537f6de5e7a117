// Package shared contains cross-module infrastructure: error kinds,
// retry helpers, audit logging and idempotency keys.
package shared

import "errors"

// Error kinds wrapped by domain errors. Handlers map them to HTTP
// status codes, services use them to decide whether an operation is
// retryable.
var (
	// ErrValidation marks malformed or semantically invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation rejected by the current state of the data.
	ErrConflict = errors.New("conflict")
	// ErrConcurrency marks a transient serialization or locking failure.
	// Operations failing with this kind are safe to retry.
	ErrConcurrency = errors.New("concurrent update")
)
