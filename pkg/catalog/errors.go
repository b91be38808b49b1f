// Package catalog holds the item record model, the error taxonomy and the
// persistence port shared by the catalog operations engine
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks rejected input (criteria, files, action kinds)
	ErrValidation = errors.New("catalog: validation failed")

	// ErrIndexOutOfRange marks a reorder with indices outside the view
	ErrIndexOutOfRange = errors.New("catalog: index out of range")

	// ErrNotFound marks a record missing from the store or snapshot
	ErrNotFound = errors.New("catalog: record not found")
)

// Status codes carried by PersistenceError
const (
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeConflict    = 409
	CodeInternal    = 500
	CodeUnavailable = 503
)

// ValidationError describes a single rejected field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IndexError reports reorder indices that do not address the view
type IndexError struct {
	Source      int
	Destination int
	Len         int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("reorder %d -> %d in view of %d: index out of range", e.Source, e.Destination, e.Len)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// PersistenceError is a failed remote operation on one record
type PersistenceError struct {
	ID      string
	Code    int
	Message string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %d %s", e.ID, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match not-found persistence failures
func (e *PersistenceError) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// NotFound builds the persistence failure for a missing record
func NotFound(id string) *PersistenceError {
	return &PersistenceError{ID: id, Code: CodeNotFound, Message: "record not found"}
}

// Failure pairs a record id with the error that stopped it
type Failure struct {
	ID  string
	Err error
}

// BatchError lists the ids a batch operation could not apply
type BatchError struct {
	Op     string
	Failed []Failure
}

func (e *BatchError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.ID
	}
	return fmt.Sprintf("%s: %d failed (%s)", e.Op, len(e.Failed), strings.Join(ids, ", "))
}

// FailedIDs returns the ids carried by a BatchError, or nil for other errors
func FailedIDs(err error) []string {
	var be *BatchError
	if !errors.As(err, &be) {
		return nil
	}
	ids := make([]string, len(be.Failed))
	for i, f := range be.Failed {
		ids[i] = f.ID
	}
	return ids
}
