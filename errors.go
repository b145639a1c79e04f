package atelier

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// Not found
	ErrPlanNotFound         = errors.New("atelier: plan not found")
	ErrSubscriptionNotFound = errors.New("atelier: subscription not found")
	ErrInvoiceNotFound      = errors.New("atelier: invoice not found")
	ErrUsageNotFound        = errors.New("atelier: usage record not found")

	// Conflict
	ErrPlanExists             = errors.New("atelier: plan slug already exists")
	ErrPlanInUse              = errors.New("atelier: plan is in use by subscriptions")
	ErrSubscriptionExists     = errors.New("atelier: artist already has an open subscription")
	ErrInvoiceExists          = errors.New("atelier: invoice already exists for billing period")
	ErrDuplicateInvoiceNumber = errors.New("atelier: duplicate invoice number")
	ErrInvoiceNumberConflict  = errors.New("atelier: could not allocate a unique invoice number")
	ErrConcurrentUpdate       = errors.New("atelier: concurrent update")

	// Invalid transition
	ErrInvalidTransition     = errors.New("atelier: invalid transition")
	ErrRefundExceedsAmount   = errors.New("atelier: refund exceeds invoice amount")
	ErrCancellationScheduled = errors.New("atelier: cancellation already scheduled")
	ErrArtworkLimitReached   = errors.New("atelier: artwork limit reached")
	ErrSubscriptionInactive  = errors.New("atelier: subscription is not active")

	// Store
	ErrStoreClosed     = errors.New("atelier: store is closed")
	ErrMigrationFailed = errors.New("atelier: migration failed")
	ErrLockUnavailable = errors.New("atelier: lock unavailable")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("atelier: validation failed for %s: %s", e.Field, e.Message)
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "atelier: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("atelier: %d errors occurred (first: %v)", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors, otherwise nil.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrUsageNotFound)
}

// IsConflict returns true if the error reports a uniqueness or concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPlanExists) ||
		errors.Is(err, ErrPlanInUse) ||
		errors.Is(err, ErrSubscriptionExists) ||
		errors.Is(err, ErrInvoiceExists) ||
		errors.Is(err, ErrDuplicateInvoiceNumber) ||
		errors.Is(err, ErrInvoiceNumberConflict) ||
		errors.Is(err, ErrConcurrentUpdate)
}

// IsInvalidTransition returns true if the error rejects a state change.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrRefundExceedsAmount) ||
		errors.Is(err, ErrCancellationScheduled) ||
		errors.Is(err, ErrArtworkLimitReached) ||
		errors.Is(err, ErrSubscriptionInactive)
}

// IsValidation returns true if the error reports invalid input. An
// over-refund is both a validation failure and an invalid transition.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrRefundExceedsAmount)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) ||
		errors.Is(err, ErrLockUnavailable) ||
		errors.Is(err, ErrInvoiceNumberConflict)
}
