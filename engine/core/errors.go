package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every knowledge base component.
var (
	// ErrInvalidInput marks malformed parameters rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicate marks a content fingerprint collision reported by the store.
	ErrDuplicate = errors.New("duplicate content")
	// ErrServiceUnavailable marks an embedding service that is not ready or unreachable.
	ErrServiceUnavailable = errors.New("embedding service unavailable")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)

// StoreError wraps a connection, query or transaction failure of the store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err unless it is nil or already classified.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// InvalidInputf formats an ErrInvalidInput with detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Unavailablef formats an ErrServiceUnavailable with detail.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrServiceUnavailable, fmt.Sprintf(format, args...))
}
