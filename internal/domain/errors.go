package domain

import (
	"errors"
	"fmt"
)

// Fault classes. Callers distinguish these with errors.Is so that a user
// mistake (validation) is never conflated with data corruption (consistency)
// or with degraded upstream inputs (missing prices, missing prior snapshots).
var (
	// ErrValidation marks rejected input; nothing was persisted.
	ErrValidation = errors.New("validation error")

	// ErrConsistency marks a data-integrity fault detected at runtime
	// (e.g. matched quantity exceeding trade quantity). The operation is
	// aborted and the fault is surfaced to the caller as-is.
	ErrConsistency = errors.New("consistency fault")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation that lost a mutual-exclusion race
	// (e.g. snapshot recompute already in progress for the same key).
	// Retryable.
	ErrConflict = errors.New("conflicting operation in progress")

	// ErrUpstreamData marks missing or stale upstream inputs (prices,
	// prior snapshots). Bulk runs record these instead of aborting.
	ErrUpstreamData = errors.New("upstream data unavailable")
)

// Validationf builds a validation error with a formatted message
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Consistencyf builds a consistency fault with a formatted message
func Consistencyf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// Upstreamf builds an upstream-data error with a formatted message
func Upstreamf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUpstreamData, fmt.Sprintf(format, args...))
}
