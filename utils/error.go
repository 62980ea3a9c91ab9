package utils

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError reports malformed input. The caller can recover by
// correcting the named field; it is never retried automatically.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError is surfaced directly when an invoice/payment id is absent.
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found with id %d", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrorRecordNotFound }

func NewNotFoundError(resource string, id int) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IllegalStateError reports a forbidden lifecycle operation: a transition
// outside the status table, an edit on an immutable invoice, or a deletion
// with attached payments. Never coerced into a different outcome.
type IllegalStateError struct {
	Current   string
	Requested string
	Message   string
}

func (e *IllegalStateError) Error() string {
	if e.Requested != "" {
		return fmt.Sprintf("invalid status transition from %s to %s", e.Current, e.Requested)
	}
	return e.Message
}

func NewIllegalStateError(message string) error {
	return &IllegalStateError{Message: message}
}

func NewIllegalTransitionError(current, requested string) error {
	return &IllegalStateError{Current: current, Requested: requested}
}

// ConflictError reports a concurrent-write collision on the same invoice after
// internal retries are exhausted.
type ConflictError struct {
	Resource string
	ID       int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %d, retry later", e.Resource, e.ID)
}

func NewConflictError(resource string, id int) error {
	return &ConflictError{Resource: resource, ID: id}
}

// IsDuplicateKeyErr reports MySQL error 1062 (unique constraint violation).
// Document numbering treats it as the collision signal and regenerates.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// IsLockErr reports MySQL 1213 (deadlock) and 1205 (lock wait timeout),
// both retryable at the transaction boundary.
func IsLockErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}
