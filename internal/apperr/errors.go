// Package apperr defines the error taxonomy shared by the catalog packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrFetch marks a source reference that could not be resolved or read.
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidCriteria marks a tag expression rejected by the criteria grammar.
	ErrInvalidCriteria = errors.New("invalid tag criteria")
	// ErrInvalidFilter marks an unknown property field or size bucket.
	ErrInvalidFilter = errors.New("invalid property filter")
	// ErrQueryExecution marks a storage engine failure while running a statement.
	ErrQueryExecution = errors.New("query execution failed")
	// ErrTransaction marks a failure to open or commit a transaction.
	ErrTransaction = errors.New("transaction failed")
)

// ItemError reports the failure of one item in a batch, carrying the
// human-readable subject name and, where known, the component key.
type ItemError struct {
	Name string
	Key  string
	Err  error
}

func (e *ItemError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s (%s): %v", e.Name, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Criteria returns an ErrInvalidCriteria carrying a user-facing reason.
func Criteria(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCriteria, fmt.Sprintf(format, args...))
}

// Filter returns an ErrInvalidFilter carrying a user-facing reason.
func Filter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilter, fmt.Sprintf(format, args...))
}
