package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the resource exists but belongs to someone else.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

func invalid(details ...string) *ValidationError {
	return &ValidationError{Details: details}
}

// PersistenceError wraps a storage or connection failure. The transaction it happened in
// was rolled back, so the caller may retry the same request.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable is always true: nothing of the failed request was committed.
func (e *PersistenceError) Retryable() bool {
	return true
}

// persistence wraps err unless it is already one of the domain errors above.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	var perr *PersistenceError
	switch {
	case errors.As(err, &verr), errors.As(err, &perr),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
