// Package apperr defines the error taxonomy shared by the conversation engine.
package apperr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the referenced conversation, message or sale does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable: transient infrastructure failure. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrValidation: bad input, nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrExternalIntegration: bridge or notification failure. Never surfaced
	// from a primary operation.
	ErrExternalIntegration = errors.New("external integration failed")
)

// StoreError wraps a backend failure and matches ErrStoreUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string   { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// Store classifies err returned by a storage backend during op.
func Store(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return &StoreError{Op: op, Err: err}
	}
}

// NotFound builds an ErrNotFound for a kind of record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Validation builds an ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IntegrationError wraps a failed external call and matches ErrExternalIntegration.
type IntegrationError struct {
	Integration string
	Err         error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Integration, e.Err)
}
func (e *IntegrationError) Unwrap() []error { return []error{ErrExternalIntegration, e.Err} }

// Integration wraps err from the named integration. Deadline overruns are reported
// as failures like any other error.
func Integration(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out: %w", err)
	}
	return &IntegrationError{Integration: name, Err: err}
}
