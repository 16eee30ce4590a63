/*
errors.go - Centralized error types for the entitlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (payaudit, travel) wrap these with request context.

ERROR CATEGORIES:
  1. Input errors  - Structurally invalid profile or claim (fatal to the request)
  2. Rate errors   - A rate is missing for a category (recovered, lowers confidence)
  3. Store errors  - The rate store could not answer (retryable)

PROPAGATION:
  Only InvalidInput fails a request. Missing rates are substituted with
  zero by the caller and reflected in the confidence score. Unrecognized
  line codes are informational. An absent masking policy falls back to the
  most restrictive view.

USAGE:
  if errors.Is(err, generic.ErrInvalidInput) {
      // 400 to the client
  }

SEE ALSO:
  - lookup.go: Produces MissingRateError
  - retry.go: Retries errors for which IsRetryable is true
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by a RateStore when no record matches.
	ErrNotFound = errors.New("not found")

	// ErrMissingRate means no RateRecord exists for a category. Non-fatal.
	ErrMissingRate = errors.New("missing rate")

	// ErrInvalidInput means the profile or claim is malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnrecognizedLineCode tags a pay-statement code with no canonical mapping.
	ErrUnrecognizedLineCode = errors.New("unrecognized line code")

	// ErrMaskingPolicyAbsent is reported when no tier policy could be resolved.
	ErrMaskingPolicyAbsent = errors.New("masking policy absent")

	// ErrRateStoreUnavailable is a transient store failure.
	ErrRateStoreUnavailable = errors.New("rate store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError describes one malformed field.
type InvalidInputError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// MissingRateError identifies the lookup that found nothing.
type MissingRateError struct {
	Category   Category
	Conditions Conditions
	AsOf       Date
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no %s rate for %s as of %s", e.Category, e.Conditions, e.AsOf)
}

func (e *MissingRateError) Unwrap() error {
	return ErrMissingRate
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing record or rate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMissingRate)
}
