package backend

import (
	"errors"
	"fmt"

	"github.com/bobuk/uodm/pkg/filter"
)

// Common errors
var (
	// ErrNotConnected is returned when an operation runs without an
	// active backend handle.
	ErrNotConnected = errors.New("store is not connected")

	// ErrDuplicateKey is returned when an insert or upsert violates a
	// uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnsupported marks a capability the backend cannot satisfy.
	// Optional behavior, such as secondary index creation, degrades by
	// skipping; the primary write path never fails with this.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrBackendUnavailable is returned on connection or transport
	// failure.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidFilter is returned for malformed filter expressions.
	ErrInvalidFilter = filter.ErrInvalidFilter
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("uodm: %v", e.Err)
	}
	return fmt.Sprintf("uodm: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Wrap adds operation context to an error; nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
