package application

import (
	"errors"
	"fmt"

	"github.com/example/mess-attendance/internal/persistence"
)

var (
	// ErrUnauthorized is returned when no principal accompanies a request.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrForbidden is returned when the acting principal lacks permission for an operation.
	ErrForbidden = errors.New("application: forbidden")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a uniqueness rule rejects the request.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrPastDate is returned when confirming a meal on a date before today.
	ErrPastDate = errors.New("application: date is in the past")
	// ErrPastMeal is returned when cancelling a meal on a date before today.
	ErrPastMeal = errors.New("application: meal is in the past")
	// ErrDeadlinePassed is returned when the confirmation deadline has elapsed.
	ErrDeadlinePassed = errors.New("application: confirmation deadline passed")
	// ErrAlreadyAttended is returned when attendance was already recorded.
	ErrAlreadyAttended = errors.New("application: already attended")
	// ErrFrozen is returned when a frozen confirmation would be mutated.
	ErrFrozen = errors.New("application: confirmation is frozen")
	// ErrInvalidQR is returned for any QR code that fails verification.
	ErrInvalidQR = errors.New("application: invalid or expired QR code")
	// ErrNoActiveMealWindow is returned when no meal is being served.
	ErrNoActiveMealWindow = errors.New("application: no active meal window")
	// ErrNoActiveSubscription is returned when a walk-in is not covered by a subscription.
	ErrNoActiveSubscription = errors.New("application: no active subscription")
	// ErrMealNotBooked is returned when a booking does not include the meal being served.
	ErrMealNotBooked = errors.New("application: meal not booked")
	// ErrAlreadyPaid is returned when settling a paid fine.
	ErrAlreadyPaid = errors.New("application: fine already paid")
	// ErrAlreadyWaived is returned when settling a waived fine.
	ErrAlreadyWaived = errors.New("application: fine already waived")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// StorageError wraps an unexpected persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// mapRepoError converts persistence sentinels into application errors.
// ErrConflict is left for the caller to interpret in context.
func mapRepoError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("record", "violates a storage constraint")
		return vErr
	}
	return &StorageError{Op: op, Err: err}
}
