// Package persistence defines the storage contracts for job runs and
// audit events, plus standardized error types shared by implementations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrJobRunNotFound indicates a job run was not found by the given identifier.
	ErrJobRunNotFound = errors.New("job run not found")

	// ErrDuplicateIdempotencyKey indicates an enqueue collided with an
	// existing row's idempotency key. Duplicates are expected traffic.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidStatusTransition indicates a conditional update matched no
	// row: the run was not in the expected state, or another worker won.
	ErrInvalidStatusTransition = errors.New("invalid job run status transition")
)

// JobRunError wraps job-run persistence errors with operation context.
type JobRunError struct {
	Op       string // Operation being performed (e.g., "ClaimPending", "Insert")
	JobRunID string
	Err      error
}

func (e *JobRunError) Error() string {
	return fmt.Sprintf("%s operation failed for job run %s: %v", e.Op, e.JobRunID, e.Err)
}

func (e *JobRunError) Unwrap() error {
	return e.Err
}

func (e *JobRunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobRunError creates a new job run error with context.
func NewJobRunError(op, jobRunID string, err error) *JobRunError {
	return &JobRunError{Op: op, JobRunID: jobRunID, Err: err}
}

// IsJobRunNotFound checks if an error indicates a job run was not found.
func IsJobRunNotFound(err error) bool {
	return errors.Is(err, ErrJobRunNotFound)
}

// IsDuplicateIdempotencyKey checks if an error indicates an idempotency
// key collision.
func IsDuplicateIdempotencyKey(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
