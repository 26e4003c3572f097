package api

import (
	"errors"
	"fmt"
)

// Error taxonomy for the orchestration pipeline. Domain-level failures are never
// retried automatically; transient infra errors are retried with bounded backoff.
var (
	// ErrInvalidRequest is returned for malformed trigger payloads; not retryable
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is returned when the trigger auth token doesn't match; not retryable
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateRequest is returned on a dedup store hit; idempotent, not retryable
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrSchedulingFailed marks a job matrix computation failure; the whole request fails
	ErrSchedulingFailed = errors.New("scheduling failed")

	// ErrNotAwaitingApproval is returned for approval actions against a record
	// that is not in the awaiting_approval state
	ErrNotAwaitingApproval = errors.New("promotion record is not awaiting approval")

	// ErrInvalidTransition is returned for promotion transitions the state machine forbids
	ErrInvalidTransition = errors.New("invalid promotion transition")

	// ErrAlreadyPublished guards the write-once property of artifact namespaces
	ErrAlreadyPublished = errors.New("artifact set already published in namespace")

	// ErrOutcomeFrozen is returned when a result arrives for an already frozen outcome
	ErrOutcomeFrozen = errors.New("build outcome already frozen")

	// ErrNotFound is returned for lookups of unknown identities
	ErrNotFound = errors.New("not found")
)

// TransientError wraps infra-level failures (store or runner unavailability)
// that callers should retry with backoff
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as a retryable infra failure
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is an infra failure eligible for retry;
// anything else is a domain failure and must be surfaced, never retried
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
