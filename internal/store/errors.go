package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

const uniqueViolation = pq.ErrorCode("23505")

// ConflictError reports which unique constraint rejected a write.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %v", e.Constraint, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConflictConstraint returns the violated constraint name, or "" when err is
// not a conflict.
func ConflictConstraint(err error) string {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Constraint
	}
	return ""
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &ConflictError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}
