package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConflict is returned when a conditional update matched no rows
	// because the record is no longer in the expected state.
	ErrConflict = errors.New("persistence: state conflict")
	// ErrConstraintViolation is returned when a check or foreign key rejects a write.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
