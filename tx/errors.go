package tx

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is returned when a deadlock persisted past the
	// configured number of attempts. It wraps the last deadlock cause.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")

	// ErrRecordNotFound is returned by RunWithLock when no row matches
	// the requested record identifier.
	ErrRecordNotFound = errors.New("record not found")
)

// DomainError marks a validation or business-rule failure raised
// intentionally by a unit of work. The executor propagates it
// immediately, without retry and without additional wrapping, so
// calling layers can distinguish it from transient contention.
type DomainError struct {
	Err error
}

// Domain wraps err as a domain-level failure.
func Domain(err error) error {
	if err == nil {
		return nil
	}
	return &DomainError{Err: err}
}

// Domainf creates a domain-level failure from a format string.
func Domainf(format string, args ...any) error {
	return &DomainError{Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// IsDomain reports whether err is (or wraps) a domain-level failure.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
