// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the document (or other entity) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates the document exists but the caller is not
	// allowed to perform the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrStaleWrite indicates an optimistic-concurrency failure: the stored
	// updated_at has advanced past the caller's expected value.
	ErrStaleWrite = errors.New("stale write")

	// ErrTransient indicates a retryable I/O failure (network, connection).
	ErrTransient = errors.New("transient failure")

	// ErrInvalid indicates a request that can never succeed as given
	// (e.g. empty title).
	ErrInvalid = errors.New("invalid request")
)
